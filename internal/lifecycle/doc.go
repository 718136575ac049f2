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

/*
Package lifecycle manages the processes around a launch and the monitor.

# Re-entry guard

A launch that finds no session re-executes itself detached so the child can
own the new session. The child inherits a guard variable so that it starts
the session in-process instead of spawning again:

	guard := lifecycle.Guard("WAYDROID_NO_APP_MONITOR")
	if guard.Set() {
	    // start the session here
	}
	spawner := lifecycle.NewSpawner(guard, logPath)
	pid, err := spawner.Reexec()

# Monitor PID file

The serve command records itself in a PID file held under an exclusive
flock, so a second monitor refuses to start and the stop command knows
whom to signal:

	pf := lifecycle.NewPIDFile(path)
	if err := pf.Acquire(os.Getpid()); err != nil {
	    // another monitor is running
	}
	defer pf.Release()

	pid, err := pf.Read()
	err = lifecycle.Terminate(pid, 10*time.Second)
*/
package lifecycle
