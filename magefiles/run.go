//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the viewer with viewer.toml.
func (Run) Viewer() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run viewer...")
	if _, err := executeCmd("go", withArgs("run", "."), withStream()); err != nil {
		return err
	}
	return nil
}
