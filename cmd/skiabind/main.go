// Command skiabind fetches the prebuilt Skia library pinned by a project's
// submodule and generates its cgo link file and bindings.
package main

import "github.com/goplus/skiabind/cmd/skiabind/internal"

func main() {
	internal.Execute()
}
