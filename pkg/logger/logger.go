// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger hands out component scoped zap loggers.
//
// Call Initialize once from main, then use For(ComponentX) everywhere else:
//
//	log := logger.For(logger.ComponentBridge)
//	log.Infof("polling %d tags", n)
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Initialize replaces the process wide base logger. Level is one of
// debug, info, warn or error.
func Initialize(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	Set(l)
	return nil
}

// Set installs l as the base logger. Tests use it with zaptest loggers.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// For returns a sugared logger tagged with the component name.
func For(component string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(component).Sugar()
}

// Sync flushes the base logger. Errors from syncing stdout/stderr are ignored.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
