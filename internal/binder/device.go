// Copyright 2025 Tom Barlow
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

package binder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// OpenConn opens the binder device node at path.
func OpenConn(path string, logger *slog.Logger) (Conn, error) {
	return openDevice(path, logger)
}

// WaitForDevice blocks until the device node at path exists. The container
// creates its binder nodes when a session starts, so the monitor may come up
// before they do.
func WaitForDevice(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	// The node may have appeared between the first check and the watch.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("binder: device watcher closed")
			}
			if filepath.Clean(event.Name) == filepath.Clean(path) && event.Has(fsnotify.Create) {
				return nil
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("binder: device watcher closed")
			}
			return fmt.Errorf("binder: watching %s: %w", path, err)
		}
	}
}
