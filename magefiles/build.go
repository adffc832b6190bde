//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles the GLSL stages under assets/shaders to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the viewer binary into bin/.
func (Build) Viewer() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Building viewer...")
	_, err := executeCmd("go", withArgs("build", "-o", "bin/modelviewer", "."), withStream())
	return err
}
