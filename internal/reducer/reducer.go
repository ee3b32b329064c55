package reducer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/linalg"
	"rcflight/internal/model"
)

const (
	KindNull = "null"
	KindPCA  = "pca"
)

// Type selects and parameterizes a reducer before it is fit.
type Type struct {
	Kind          string `json:"kind"`
	MaxComponents int    `json:"max_components,omitempty"`
}

func NullType() Type {
	return Type{Kind: KindNull}
}

func PCAType(maxComponents int) Type {
	return Type{Kind: KindPCA, MaxComponents: maxComponents}
}

func (t Type) String() string {
	if t.Kind == KindPCA {
		return fmt.Sprintf("pca(%d)", t.MaxComponents)
	}
	return t.Kind
}

// Reducer is the closed set of fitted reducers. PCA is set only when Kind is
// KindPCA.
type Reducer struct {
	Kind string
	PCA  *PCA
}

// Null is the identity reducer.
func Null() Reducer {
	return Reducer{Kind: KindNull}
}

// New fits a reducer of the given type on x.
func New(t Type, x *mat.Dense) (Reducer, error) {
	switch t.Kind {
	case "", KindNull:
		return Null(), nil
	case KindPCA:
		pca, err := FitPCA(x, t.MaxComponents)
		if err != nil {
			return Reducer{}, err
		}
		return Reducer{Kind: KindPCA, PCA: pca}, nil
	default:
		return Reducer{}, fmt.Errorf("unsupported reducer kind: %s", t.Kind)
	}
}

func (r Reducer) Transform(x *mat.Dense) *mat.Dense {
	if r.Kind != KindPCA {
		return x
	}
	return r.PCA.Transform(x)
}

func (r Reducer) TransformRow(row []float64) []float64 {
	if r.Kind != KindPCA {
		return row
	}
	return r.PCA.TransformRow(row)
}

// OutputWidth returns the reduced width for an input of the given width.
func (r Reducer) OutputWidth(features int) int {
	if r.Kind != KindPCA || r.PCA.passthrough() {
		return features
	}
	return r.PCA.Components()
}

func (r Reducer) Record() model.ReducerRecord {
	if r.Kind != KindPCA {
		return model.ReducerRecord{Kind: KindNull}
	}
	return model.ReducerRecord{
		Kind:          KindPCA,
		MaxComponents: r.PCA.Components(),
		Mean:          r.PCA.Mean(),
		Components:    linalg.ToRecord(r.PCA.components),
	}
}

func FromRecord(rec model.ReducerRecord) (Reducer, error) {
	switch rec.Kind {
	case "", KindNull:
		return Null(), nil
	case KindPCA:
		components, err := linalg.FromRecord(rec.Components)
		if err != nil {
			return Reducer{}, fmt.Errorf("pca components: %w", err)
		}
		if r, _ := linalg.Dims(components); r != len(rec.Mean) {
			return Reducer{}, fmt.Errorf("pca components have %d rows for %d features", r, len(rec.Mean))
		}
		pca := &PCA{mean: append([]float64(nil), rec.Mean...)}
		if !components.IsEmpty() {
			pca.components = components
		}
		return Reducer{Kind: KindPCA, PCA: pca}, nil
	default:
		return Reducer{}, fmt.Errorf("unsupported reducer kind: %s", rec.Kind)
	}
}
