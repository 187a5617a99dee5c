package kernelctx

import (
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/contexts/climate"
	"github.com/aretw0/kernelctx/pkg/contexts/mimi"
	"github.com/aretw0/kernelctx/pkg/contexts/miraconfig"
	"github.com/aretw0/kernelctx/pkg/contexts/miramodel"
	"github.com/aretw0/kernelctx/pkg/contexts/pyciemss"
)

// Kinds returns the built-in context kinds.
func Kinds() []contexts.Kind {
	return []contexts.Kind{
		miramodel.Kind(),
		miraconfig.Kind(),
		pyciemss.Kind(),
		climate.Kind(),
		mimi.Kind(),
	}
}

// DefaultRegistry returns a registry of the built-in context kinds.
func DefaultRegistry() *contexts.Registry {
	reg, err := contexts.NewRegistry(Kinds()...)
	if err != nil {
		// Built-in slugs are constants; a collision is a programming error.
		panic(err)
	}
	return reg
}
