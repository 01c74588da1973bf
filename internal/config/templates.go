package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes a commented starter configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const template = `# owctl configuration

[server]
host = "localhost"
port = "4304"
# reuse one TCP connection while owserver grants persistence
persistent = false
# log every frame sent and received
verbose = false

[flags]
# C, F, K or R
temperature = "C"
# mbar, atm, mmhg, inhg, psi or pa
pressure = "mbar"
# f.i, fi, f.i.c, f.ic, fi.c or fic
format = "f.i"
uncached = false
safemode = false
alias = false
bus_ret = false

[timeouts]
connect = "2s"
io = "2s"
# bound on waiting through keep-alive pulses; 0s waits indefinitely
request = "0s"

[status]
listen = "127.0.0.1:8304"
sensors = []
limit = 25.0
step = 5.0
interval = "30s"
cors_origins = []
# bearer token required on every route but /health; empty disables
token = ""
`
