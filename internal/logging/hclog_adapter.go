/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"io"
	"log"
	"os"

	"github.com/hashicorp/go-hclog"
)

// HCLogAdapter bridges Logger to the hclog.Logger interface hashicorp/raft
// requires in its Config, so raft's internal diagnostics flow through the
// same component-tagged log lines as the rest of the service.
type HCLogAdapter struct {
	logger *Logger
	name   string
}

// NewHCLogAdapter wraps logger as an hclog.Logger named name.
func NewHCLogAdapter(logger *Logger, name string) *HCLogAdapter {
	return &HCLogAdapter{logger: logger, name: name}
}

func (a *HCLogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace, hclog.Debug:
		a.logger.Debug(msg, args...)
	case hclog.Warn:
		a.logger.Warn(msg, args...)
	case hclog.Error:
		a.logger.Error(msg, args...)
	default:
		a.logger.Info(msg, args...)
	}
}

func (a *HCLogAdapter) Trace(msg string, args ...interface{}) { a.logger.Debug(msg, args...) }
func (a *HCLogAdapter) Debug(msg string, args ...interface{}) { a.logger.Debug(msg, args...) }
func (a *HCLogAdapter) Info(msg string, args ...interface{})  { a.logger.Info(msg, args...) }
func (a *HCLogAdapter) Warn(msg string, args ...interface{})  { a.logger.Warn(msg, args...) }
func (a *HCLogAdapter) Error(msg string, args ...interface{}) { a.logger.Error(msg, args...) }

func (a *HCLogAdapter) IsTrace() bool { return true }
func (a *HCLogAdapter) IsDebug() bool { return true }
func (a *HCLogAdapter) IsInfo() bool  { return true }
func (a *HCLogAdapter) IsWarn() bool  { return true }
func (a *HCLogAdapter) IsError() bool { return true }

func (a *HCLogAdapter) ImpliedArgs() []interface{} { return nil }

func (a *HCLogAdapter) With(args ...interface{}) hclog.Logger {
	return &HCLogAdapter{logger: a.logger.With(args...), name: a.name}
}

func (a *HCLogAdapter) Name() string { return a.name }

func (a *HCLogAdapter) Named(name string) hclog.Logger {
	full := name
	if a.name != "" {
		full = a.name + "." + name
	}
	return &HCLogAdapter{logger: a.logger, name: full}
}

func (a *HCLogAdapter) ResetNamed(name string) hclog.Logger {
	return &HCLogAdapter{logger: a.logger, name: name}
}

func (a *HCLogAdapter) SetLevel(hclog.Level) {}

func (a *HCLogAdapter) GetLevel() hclog.Level { return hclog.Info }

func (a *HCLogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(a.StandardWriter(opts), "", 0)
}

func (a *HCLogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return os.Stderr
}
