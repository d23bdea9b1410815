package extn

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xirelogy/go-starhost/internal/interp"
)

// Init installs one extension: it defines the native class, then evaluates
// the extension's guest source, which may re-open the class to add
// in-language methods.
//
// If the source fails the class is removed again, so a failed extension
// never leaves a partially usable class behind.
func Init(ctx context.Context, ip *interp.Interpreter, ext *Extension) error {
	if ext == nil {
		return &Error{Kind: KindSpecInvalid, Err: errors.New("nil extension")}
	}
	log := ip.Logger().With(zap.String("class", ext.Class))

	spec := &interp.ClassSpec{Name: ext.Class, Methods: ext.Methods}
	if ext.Super != "" {
		super, ok := ip.Class(ext.Super)
		if !ok {
			return &Error{Kind: KindSpecInvalid, Class: ext.Class, Err: fmt.Errorf("superclass %s is not defined", ext.Super)}
		}
		spec.Super = super
	}
	if err := spec.Validate(); err != nil {
		return &Error{Kind: KindSpecInvalid, Class: ext.Class, Err: err}
	}
	if _, err := ip.DefineClass(spec); err != nil {
		if errors.Is(err, interp.ErrClosed) || errors.Is(err, interp.ErrBusy) {
			return err
		}
		return &Error{Kind: KindSpecInvalid, Class: ext.Class, Err: err}
	}

	if len(ext.Source) > 0 {
		if _, err := ip.Eval(ctx, ext.sourceName(), ext.Source); err != nil {
			if uerr := ip.UndefineClass(ext.Class); uerr != nil {
				log.Warn("rollback failed", zap.Error(uerr))
			}
			log.Debug("extension source failed", zap.Error(err))
			return &Error{Kind: KindEvalFailed, Class: ext.Class, Err: err}
		}
	}
	log.Debug("extension installed",
		zap.Int("native_methods", len(ext.Methods)),
		zap.Int("source_bytes", len(ext.Source)),
	)
	return nil
}

// InitAll installs exts in order and stops at the first failure.
func InitAll(ctx context.Context, ip *interp.Interpreter, exts []*Extension) error {
	for _, ext := range exts {
		if err := Init(ctx, ip, ext); err != nil {
			return err
		}
	}
	return nil
}
