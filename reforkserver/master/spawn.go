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

package master

import (
	"os"
	"os/exec"

	liberr "github.com/nabbar/reforkd/errors"
	"github.com/nabbar/reforkd/reforkserver/listener"
	"github.com/nabbar/reforkd/reforkserver/procutil"
)

// Spawner execs a fresh copy of the running binary as a worker or mold.
//
// Go's runtime gives no safe fork() once goroutines are running, so unlike
// the process this core is modeled on, every child -- generation 0 or any
// later one, "forked from the mold" or not -- is created the same way:
// exec of a new process image. A real fork's copy-on-write win over an
// already-warmed heap cannot be reproduced by exec, which always starts
// from a clean image; the "mold" role is kept for its selection and
// lifecycle bookkeeping value (see mold.Policy/mold.Selector) rather than
// for a memory-sharing benefit Go cannot deliver. Spawning is therefore
// always performed directly by the master, which keeps every worker a
// direct OS child the master can waitpid/reap -- delegating the exec call
// itself to a mold process would make that worker a child of the mold
// instead, breaking reaping.
type Spawner struct {
	BinaryPath string
	BaseEnv    []string
	Listeners  *listener.Set
	SockPath   string
}

// Spawn execs a new worker for the given slot/generation, inheriting the
// listener set's file descriptors and pointed at the control rendezvous
// socket to dial back on.
func (s *Spawner) Spawn(slot, generation int) (*os.Process, liberr.Error) {
	fdList, files, err := s.Listeners.EncodeFDEnv()
	if err != nil {
		return nil, ErrorSpawn.Error(err)
	}

	boot := procutil.BootstrapEnv{
		Role:        procutil.RoleWorker,
		Slot:        slot,
		Generation:  generation,
		ControlSock: s.SockPath,
	}

	cmd := exec.Command(s.BinaryPath)
	cmd.ExtraFiles = files
	cmd.Env = append(append([]string{}, s.BaseEnv...), boot.Encode()...)
	cmd.Env = append(cmd.Env, listener.EnvInheritFDs+"="+fdList)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if serr := cmd.Start(); serr != nil {
		return nil, ErrorSpawn.Error(serr)
	}

	for _, f := range files {
		_ = f.Close()
	}

	return cmd.Process, nil
}
