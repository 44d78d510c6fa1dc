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

package reforkserver

import (
	"fmt"
	"time"

	libval "github.com/go-playground/validator/v10"

	liberr "github.com/nabbar/reforkd/errors"
	"github.com/nabbar/reforkd/reforkserver/listener"
	"github.com/nabbar/reforkd/reforkserver/mold"
	"github.com/nabbar/reforkd/reforkserver/request"
	"github.com/nabbar/reforkd/reforkserver/worker"
)

// ListenerConfig is one bindable address plus the socket options applied to
// it, the resolved form of the external "listen" directive.
type ListenerConfig struct {
	Address string          `json:"address" yaml:"address" toml:"address" mapstructure:"address" validate:"required"`
	Options listener.Options `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty" mapstructure:"options,omitempty"`
}

// Config is the resolved configuration of a reforkserver Server: the
// worker/refork lifecycle knobs, the listener set to bind, and the request
// pipeline tunables handed down to every worker.
type Config struct {
	// WorkerProcesses is the steady-state worker count the master maintains.
	WorkerProcesses int `json:"workerProcesses" yaml:"workerProcesses" toml:"workerProcesses" mapstructure:"workerProcesses" validate:"min=1"`

	// Timeout bounds both the liveness-tick murder check and the graceful
	// shutdown grace period.
	Timeout time.Duration `json:"timeout" yaml:"timeout" toml:"timeout" mapstructure:"timeout" validate:"required"`

	// ReforkAfter is the per-generation request-count threshold (refork_after)
	// that triggers promotion to the next generation.
	ReforkAfter []int `json:"reforkAfter,omitempty" yaml:"reforkAfter,omitempty" toml:"reforkAfter,omitempty" mapstructure:"reforkAfter,omitempty"`

	// Listeners is the set of addresses the master binds before forking any
	// worker, shared read-only with every generation.
	Listeners []ListenerConfig `json:"listeners" yaml:"listeners" toml:"listeners" mapstructure:"listeners" validate:"required,min=1,dive"`

	// ControlSockPath is the UNIX rendezvous socket path every exec'd worker
	// dials back on; a temp-dir path is generated if left empty.
	ControlSockPath string `json:"controlSockPath,omitempty" yaml:"controlSockPath,omitempty" toml:"controlSockPath,omitempty" mapstructure:"controlSockPath,omitempty"`

	// MaxFileDescriptors raises the process's open-file soft limit before the
	// worker pool starts accepting connections. Left at 0, the system default
	// limit applies.
	MaxFileDescriptors int `json:"maxFileDescriptors,omitempty" yaml:"maxFileDescriptors,omitempty" toml:"maxFileDescriptors,omitempty" mapstructure:"maxFileDescriptors,omitempty"`

	// RewindableInput selects the Tee Input body reader (C3) instead of the
	// forward-only stream reader.
	RewindableInput bool `json:"rewindableInput,omitempty" yaml:"rewindableInput,omitempty" toml:"rewindableInput,omitempty" mapstructure:"rewindableInput,omitempty"`

	// ClientBodyBufferSize bounds the Tee Input's in-memory buffer before it
	// spills to a temp file.
	ClientBodyBufferSize int `json:"clientBodyBufferSize,omitempty" yaml:"clientBodyBufferSize,omitempty" toml:"clientBodyBufferSize,omitempty" mapstructure:"clientBodyBufferSize,omitempty"`

	MaxHeaderBytes int `json:"maxHeaderBytes,omitempty" yaml:"maxHeaderBytes,omitempty" toml:"maxHeaderBytes,omitempty" mapstructure:"maxHeaderBytes,omitempty"`
	MaxURIBytes    int `json:"maxUriBytes,omitempty" yaml:"maxUriBytes,omitempty" toml:"maxUriBytes,omitempty" mapstructure:"maxUriBytes,omitempty"`

	EarlyHints               bool   `json:"earlyHints,omitempty" yaml:"earlyHints,omitempty" toml:"earlyHints,omitempty" mapstructure:"earlyHints,omitempty"`
	AlwaysFullResponsePrefix bool   `json:"alwaysFullResponsePrefix,omitempty" yaml:"alwaysFullResponsePrefix,omitempty" toml:"alwaysFullResponsePrefix,omitempty" mapstructure:"alwaysFullResponsePrefix,omitempty"`
	ServerSoftware           string `json:"serverSoftware,omitempty" yaml:"serverSoftware,omitempty" toml:"serverSoftware,omitempty" mapstructure:"serverSoftware,omitempty"`

	// Selector overrides the default largest-RSS mold candidate heuristic.
	Selector mold.Selector `json:"-" yaml:"-" toml:"-" mapstructure:"-"`

	// App is the request-handling callable every worker invokes.
	App worker.Application `json:"-" yaml:"-" toml:"-" mapstructure:"-" validate:"required"`

	// Hooks are the lifecycle callables mirrored on both the master and
	// worker side of a generation change.
	Hooks Hooks `json:"-" yaml:"-" toml:"-" mapstructure:"-"`
}

// Hooks gathers the lifecycle callables a Server invokes on both the master
// and worker side, matching the external "before_fork"/"after_fork"/
// "on_worker_boot" family of callbacks.
type Hooks struct {
	BeforeFork       func(slot int)
	AfterFork        func()
	AfterWorkerReady func()
	AfterPromotion   func()
	AfterWorkerExit  func(slot, pid, status int)
}

// Validate checks Config against its struct tags and the cross-field rules
// the tags alone cannot express (App must be set, ReforkAfter must be
// monotonic).
func (c *Config) Validate() liberr.Error {
	e := ErrorConfigValidation.Error(nil)

	if err := libval.New().Struct(c); err != nil {
		if er, ok := err.(*libval.InvalidValidationError); ok {
			e.Add(er)
		} else if ers, ok := err.(libval.ValidationErrors); ok {
			for _, er := range ers {
				//nolint #goerr113
				e.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", er.Namespace(), er.ActualTag()))
			}
		}
	}

	if c.App == nil {
		e.Add(ErrorConfigNoApp.Error())
	}

	for i := 1; i < len(c.ReforkAfter); i++ {
		if c.ReforkAfter[i] < c.ReforkAfter[i-1] {
			//nolint #goerr113
			e.Add(fmt.Errorf("reforkAfter must be non-decreasing, generation %d (%d) precedes generation %d (%d)", i-1, c.ReforkAfter[i-1], i, c.ReforkAfter[i]))
		}
	}

	if !e.HasParent() {
		return nil
	}
	return e
}

// requestConfig projects Config's body/header tunables into a
// request.Config, the shape the C4 reader actually consumes.
func (c *Config) requestConfig() request.Config {
	return request.Config{
		MaxHeaderBytes:       c.MaxHeaderBytes,
		MaxURIBytes:          c.MaxURIBytes,
		ClientBodyBufferSize: c.ClientBodyBufferSize,
		RewindableInput:      c.RewindableInput,
		ServerSoftware:       c.ServerSoftware,
		EarlyHints:           c.EarlyHints,
	}
}
