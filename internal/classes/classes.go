// Package classes links every native extension into the binary. Importing
// it registers the extensions with package extn, in the order listed here.
package classes

import (
	_ "github.com/xirelogy/go-starhost/internal/classes/demo"
)
