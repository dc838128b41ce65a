// Package main is the entry point for the Metasepia fin drive Viam module.
package main

import (
	"context"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/servo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/utils"

	// Import packages to register components
	finBase "github.com/Peppe-Grasso/metasepia-brain/base"
	finServo "github.com/Peppe-Grasso/metasepia-brain/servo"
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("metasepia"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	mod, err := module.NewModuleFromArgs(ctx)
	if err != nil {
		return err
	}

	// Register base component
	if err := mod.AddModelFromRegistry(ctx, base.API, finBase.Model); err != nil {
		return err
	}

	// Register servo component
	if err := mod.AddModelFromRegistry(ctx, servo.API, finServo.Model); err != nil {
		return err
	}

	if err := mod.Start(ctx); err != nil {
		return err
	}
	defer mod.Close(ctx)

	<-ctx.Done()
	return nil
}
