package commands

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	rustimport "github.com/contriboss/rustimport-go"
)

const libTemplate = `// rustimport:pyo3

use pyo3::prelude::*;

#[pyfunction]
fn say_hello() {
    println!("Hello from {{EXTENSION_NAME}}, implemented in Rust!")
}

// Uncomment the below to implement custom pyo3 binding code. Otherwise,
// rustimport will generate it for you for all functions annotated with
// #[pyfunction] and all structs annotated with #[pyclass].
//
//#[pymodule]
//fn {{EXTENSION_NAME}}(_py: Python, m: &Bound<'_, PyModule>) -> PyResult<()> {
//    m.add_function(wrap_pyfunction!(say_hello, m)?)?;
//    Ok(())
//}
`

const cargoTomlTemplate = `[package]
name = "{{EXTENSION_NAME}}"
version = "0.1.0"
edition = "2021"

# You can safely remove the sections below to let rustimport define your
# pyo3 configuration automatically. It's still possible to add other
# configuration or dependencies, or overwrite specific parts here;
# rustimport merges this file over its generated defaults.
[lib]
name = "{{EXTENSION_NAME}}"
# "cdylib" is necessary to produce a shared library the host runtime can
# load. Add "rlib" as well if downstream Rust code should be able to use
# this crate.
crate-type = ["cdylib"]

[dependencies]
pyo3 = { version = "{{PYO3_VERSION}}", features = ["extension-module"] }
`

var extensionNameRe = regexp.MustCompile(`^[a-zA-Z]\w*(\.rs)?$`)

// NewCmd scaffolds a new importable extension.
var NewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a new extension ready to be imported",
	Long: `Create a new extension ready to be imported with rustimport.

If the given name ends with ".rs" a single-file extension is created;
otherwise a crate is set up, complete with a Cargo.toml and the
.rustimport marker file that makes the crate importable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if err := createExtension(path); err != nil {
			return err
		}
		pterm.Success.Printfln("created %s", path)
		return nil
	},
}

func createExtension(path string) error {
	if !extensionNameRe.MatchString(filepath.Base(path)) {
		return errors.Newf("invalid extension name %q: use letters, numbers and underscores, starting with a letter", filepath.Base(path))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(abs), ".rs")
	source := strings.ReplaceAll(libTemplate, "{{EXTENSION_NAME}}", name)

	if strings.HasSuffix(abs, ".rs") {
		return os.WriteFile(abs, []byte(source), 0644)
	}

	srcDir := filepath.Join(abs, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(srcDir, "lib.rs"), []byte(source), 0644); err != nil {
		return err
	}
	manifest := strings.ReplaceAll(cargoTomlTemplate, "{{EXTENSION_NAME}}", name)
	manifest = strings.ReplaceAll(manifest, "{{PYO3_VERSION}}", rustimport.PyO3Version)
	if err := os.WriteFile(filepath.Join(abs, "Cargo.toml"), []byte(manifest), 0644); err != nil {
		return err
	}
	marker := "This is a marker file that makes this crate importable by rustimport.\n"
	return os.WriteFile(filepath.Join(abs, rustimport.CrateMarkerFile), []byte(marker), 0644)
}
