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

// Command reforkd is the thin process entrypoint: it loads configuration,
// builds the application callable (here a placeholder echo handler; a real
// deployment links its own), and hands both to reforkserver.Server. The same
// binary re-execs itself for every worker/mold spawn (see master.Spawner), so
// this main is the code every role -- master and worker alike -- actually
// runs; role dispatch happens inside Server.Run via the bootstrap environment.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	"github.com/nabbar/reforkd/logger"
	"github.com/nabbar/reforkd/reforkserver"
	"github.com/nabbar/reforkd/reforkserver/request"
	"github.com/nabbar/reforkd/reforkserver/response"
)

var cfgFile string

func main() {
	root := &spfcbr.Command{
		Use:   "reforkd",
		Short: "Preforking/reforking HTTP/1.1 application server",
		Long:  "reforkd binds a listener set, maintains a pool of worker processes, and reforks generations as request thresholds are crossed.",
		RunE:  run,
	}
	root.Flags().StringVar(&cfgFile, "config", "", "path to a YAML/JSON/TOML configuration file (viper-loaded)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *spfcbr.Command, _ []string) error {
	v := spfvpr.New()
	v.SetEnvPrefix("REFORKD")
	v.AutomaticEnv()
	v.SetDefault("workerProcesses", 4)
	v.SetDefault("timeout", "20s")
	v.SetDefault("listeners", []map[string]interface{}{{"address": "8080"}})

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %q: %w", cfgFile, err)
		}
	}

	cfg, err := decodeConfig(v)
	if err != nil {
		return err
	}
	cfg.App = echoApplication

	logFunc := func() logger.Logger { return logger.New(context.Background()) }

	srv, verr := reforkserver.New(cfg, logFunc)
	if verr != nil {
		return fmt.Errorf("configuration: %w", verr)
	}

	if rerr := srv.Run(); rerr != nil {
		return fmt.Errorf("server: %w", rerr)
	}
	return nil
}

// decodeConfig maps viper's merged (defaults/env/file) view onto
// reforkserver.Config via mapstructure, reusing the struct tags Config
// already carries for this purpose.
func decodeConfig(v *spfvpr.Viper) (reforkserver.Config, error) {
	var cfg reforkserver.Config

	timeoutStr := v.GetString("timeout")
	d, derr := time.ParseDuration(timeoutStr)
	if derr != nil {
		return cfg, fmt.Errorf("parsing timeout %q: %w", timeoutStr, derr)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}
	cfg.Timeout = d

	return cfg, nil
}

// echoApplication is the placeholder application callable wired by default:
// it echoes the request method and path. A real deployment replaces this
// with its own Application before calling reforkserver.New.
func echoApplication(env *request.Environment) (response.Result, error) {
	method := env.Get(request.KeyRequestMethod)
	uri := env.Get(request.KeyRequestURI)
	text := method + " " + uri + "\n"
	body := strings.NewReader(text)

	return response.Result{
		Status:        200,
		Reason:        "OK",
		Headers:       map[string][]string{"Content-Type": {"text/plain"}},
		Body:          body,
		ContentLength: int64(len(text)),
	}, nil
}
