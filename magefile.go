//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Build compiles the rustimport CLI into bin/.
func Build() error {
	return sh.RunV("go", "build", "-o", "bin/rustimport", "./cmd/rustimport")
}

// Install installs the rustimport CLI into GOBIN.
func Install() error {
	return sh.RunV("go", "install", "./cmd/rustimport")
}

// Test runs the test suite.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Vet runs go vet over the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// CI runs the checks expected to pass before merging.
func CI() {
	mg.SerialDeps(Vet, Test)
}

// Clean removes build output.
func Clean() error {
	return sh.Rm("bin")
}
