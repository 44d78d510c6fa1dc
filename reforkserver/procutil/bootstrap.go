/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package procutil

import (
	"os"
	"strconv"
)

// Environment variables carrying worker bootstrap data across the exec
// boundary: Go has no usable in-process fork(), so every spawn -- initial
// workers, reforked generations, mold promotion -- goes through exec.Command
// re-invoking the current binary with these set and the relevant file
// descriptors attached via os/exec.Cmd.ExtraFiles.
const (
	EnvWorkerSlot       = "REFORKD_WORKER_NR"
	EnvWorkerGeneration = "REFORKD_WORKER_GENERATION"
	EnvControlSock      = "REFORKD_CONTROL_SOCK"
	EnvRole             = "REFORKD_ROLE"
)

// Role identifies what a re-exec'd process should become.
type Role string

const (
	RoleMaster Role = ""
	RoleWorker Role = "worker"
	RoleMold   Role = "mold"
)

// BootstrapEnv is the decoded content of the worker bootstrap environment
// variables, read by a freshly exec'd process to learn its identity.
type BootstrapEnv struct {
	Role        Role
	Slot        int
	Generation  int
	ControlSock string
}

// ReadBootstrapEnv decodes the current process's environment into a
// BootstrapEnv. Role is RoleMaster (the zero value) if REFORKD_ROLE is
// unset, i.e. this is the initial, non-re-exec'd process.
func ReadBootstrapEnv() BootstrapEnv {
	b := BootstrapEnv{Role: Role(os.Getenv(EnvRole)), ControlSock: os.Getenv(EnvControlSock)}
	b.Slot, _ = strconv.Atoi(os.Getenv(EnvWorkerSlot))
	b.Generation, _ = strconv.Atoi(os.Getenv(EnvWorkerGeneration))
	return b
}

// Encode returns the environment variable assignments ("KEY=VALUE") to pass
// via exec.Cmd.Env when spawning a child with this bootstrap identity.
func (b BootstrapEnv) Encode() []string {
	return []string{
		EnvRole + "=" + string(b.Role),
		EnvWorkerSlot + "=" + strconv.Itoa(b.Slot),
		EnvWorkerGeneration + "=" + strconv.Itoa(b.Generation),
		EnvControlSock + "=" + b.ControlSock,
	}
}
