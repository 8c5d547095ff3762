package armctl

import _ "embed"

// DemoScript is the Lua script run by "armctl run --demo".
//
//go:embed scripts/demo.lua
var DemoScript string
