package ir

type (
	// Annotation is immutable metadata attached to operators and variables.
	// Equal annotations are interned to one instance per compilation unit.
	Annotation interface {
		AnnotationHash() uint64
		AnnotationEqual(Annotation) bool
	}

	Annotated struct {
		Annotations []Annotation
	}

	CloneContext interface {
		ConvertMethod(*Method) *Method
		Unique(Annotation) Annotation
	}

	// Cloner is implemented by annotations that refer to other IR entities.
	Cloner interface {
		Clone(CloneContext) Annotation
	}

	TransformReason uint8

	Transformer interface {
		Reason() TransformReason
		TransformMethod(*Method) *Method
		IsProhibited(*Method) bool
	}

	Transformable interface {
		ApplyTransformation(Transformer)
	}
)

const (
	TransformGeneric TransformReason = iota
	TransformCallsClosure
	TransformFlagProhibitedUses
)

func (a *Annotated) AddAnnotation(x Annotation) {
	if x == nil {
		return
	}

	a.Annotations = append(a.Annotations, x)
}

// RemoveAnnotation removes x by identity.
func (a *Annotated) RemoveAnnotation(x Annotation) bool {
	for i, y := range a.Annotations {
		if y == x {
			a.Annotations = append(a.Annotations[:i], a.Annotations[i+1:]...)
			return true
		}
	}

	return false
}

// ReplaceAnnotation removes old if present and adds x.
func (a *Annotated) ReplaceAnnotation(old, x Annotation) {
	if old != nil {
		a.RemoveAnnotation(old)
	}

	a.AddAnnotation(x)
}

// CloneAnnotations returns the annotation list as seen from ctx.
func (a Annotated) CloneAnnotations(ctx CloneContext) Annotated {
	if len(a.Annotations) == 0 {
		return Annotated{}
	}

	r := Annotated{Annotations: make([]Annotation, len(a.Annotations))}

	for i, x := range a.Annotations {
		if c, ok := x.(Cloner); ok {
			x = c.Clone(ctx)
		}

		r.Annotations[i] = x
	}

	return r
}

func (a *Annotated) TransformAnnotations(t Transformer) {
	for _, x := range a.Annotations {
		if x, ok := x.(Transformable); ok {
			x.ApplyTransformation(t)
		}
	}
}

// Find returns the first annotation of type T.
func Find[T Annotation](a *Annotated) (x T, ok bool) {
	for _, y := range a.Annotations {
		if x, ok = y.(T); ok {
			return x, true
		}
	}

	return x, false
}

func (r TransformReason) String() string {
	switch r {
	case TransformGeneric:
		return "generic"
	case TransformCallsClosure:
		return "calls_closure"
	case TransformFlagProhibitedUses:
		return "flag_prohibited_uses"
	default:
		return "reason(?)"
	}
}
