/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

/*
Package hookfile provides a logrus hook for writing log entries to files with automatic
rotation detection, efficient multi-writer aggregation, and configurable formatting.

# Overview

The hookfile package implements a production-ready logrus.Hook that writes log entries to
files with sophisticated features not found in standard file logging:

  - Automatic log rotation detection using inode comparison
  - Efficient write aggregation when multiple loggers share the same file
  - Thread-safe concurrent writes with reference counting
  - Configurable field filtering (stack, time, caller info)
  - Access log mode for HTTP request logging
  - Automatic directory creation and permission management

This package is particularly useful for:

  - Production applications requiring robust log rotation
  - Multi-tenant systems where multiple loggers write to shared files
  - Systems using external log rotation tools (logrotate, etc.)
  - Applications needing separation of access logs and application logs

# Design Philosophy

1. Rotation-Aware: Automatically detect and handle external log rotation
2. Resource Efficient: Share file handles and aggregators across multiple hooks
3. Production-Ready: Handle edge cases like file deletion, permission errors, disk full
4. Zero-Copy Writes: Use aggregator pattern to minimize memory allocations
5. Fail-Safe Operation: Continue logging even when rotation fails

# Key Features

  - **Automatic Rotation Detection**: Detects when log files are moved/renamed (inode tracking)
  - **File Handle Sharing**: Multiple hooks to same file share single aggregator and file handle
  - **Buffered Aggregation**: Uses ioutils/aggregator for efficient async writes
  - **Reference Counting**: Automatically closes files when last hook is removed
  - **Permission Management**: Configurable file and directory permissions
  - **Field Filtering**: Remove stack traces, timestamps, caller info as needed
  - **Access Log Mode**: Message-only output for HTTP access logs
  - **Error Recovery**: Automatic file reopening on errors

# Architecture

The package uses a multi-layered architecture with reference-counted file aggregators:

	┌─────────────────────────────────────────────┐
	│           Multiple logrus.Logger            │
	│  ┌─────────┐  ┌─────────┐  ┌─────────┐      │
	│  │Logger 1 │  │Logger 2 │  │Logger 3 │      │
	│  └────┬────┘  └────┬────┘  └────┬────┘      │
	│       │            │            │           │
	└───────┼────────────┼────────────┼───────────┘
	        │            │            │
	        ▼            ▼            ▼
	    ┌────────────────────────────────┐
	    │     HookFile Instances         │
	    │   (3 hooks, same filepath)     │
	    └────────────┬───────────────────┘
	                 │
	                 ▼
	        ┌───────────────────┐
	        │   File Aggregator │
	        │   (RefCount: 3)   │
	        │                   │
	        │  • Shared File    │
	        │  • Sync Timer     │
	        │  • Rotation Check │
	        └────────┬──────────┘
	                 │
	                 ▼
	          ┌──────────────┐
	          │  Aggregator  │
	          │  (buffered)  │
	          └──────┬───────┘
	                 │
	                 ▼
	           ┌──────────┐
	           │ app.log  │
	           └──────────┘

# Component Interaction

1. Hook Creation: New(opts, formatter) → creates or reuses file aggregator
2. Write Aggregation: Multiple hooks → single aggregator → single file
3. Rotation Detection: Sync timer (1s) → inode comparison → file reopen if rotated
4. Reference Counting: Close hook → decrement refcount → close file at zero
5. Error Handling: Write error → log to stderr → continue operation

# Log Rotation Detection

The package automatically detects external log rotation (e.g., by logrotate) using inode tracking:

	Time T0: app.log (inode: 12345)
	         ↓
	         Hook writes → file descriptor points to inode 12345

	Time T1: logrotate renames app.log to app.log.1
	         Creates new app.log (inode: 67890)
	         ↓
	         Hook still writes → FD points to OLD inode 12345 (app.log.1)

	Time T2: Sync timer runs (every 1 second)
	         Compare: FD inode (12345) ≠ Disk inode (67890)
	         ↓
	         Rotation detected!
	         Close old FD → Open new file → Resume logging to NEW inode

	Time T3: Hook writes → file descriptor points to NEW inode 67890

The rotation detection uses os.SameFile() to compare inodes, which works reliably
across Unix systems and Windows (using file IDs). The sync timer runs every second
to balance between detection latency and system overhead.

# Logrus Hook Behavior

**⚠️ CRITICAL**: Understanding how logrus hooks process log data:

Standard Mode (Default):
  - Fields (logrus.Fields) ARE written to output
  - Message parameter in Info/Error/etc. is IGNORED by formatter
  - To log a message: use logger.WithField("msg", "text").Info("")

Access Log Mode (EnableAccessLog=true):
  - Message parameter IS written to output
  - Fields (logrus.Fields) are IGNORED
  - To log a message: use logger.Info("GET /api/users - 200 OK")

Example of Standard Mode:

	// ❌ WRONG: Message will NOT appear in logs
	logger.Info("User logged in")  // Output: (empty)

	// ✅ CORRECT: Use fields
	logger.WithField("msg", "User logged in").Info("")
	// Output: level=info fields.msg="User logged in"

Example of Access Log Mode:

	// ✅ CORRECT in AccessLog mode
	logger.Info("GET /api/users - 200 OK - 45ms")
	// Output: GET /api/users - 200 OK - 45ms

	// ❌ WRONG in AccessLog mode: Fields are ignored
	logger.WithField("status", 200).Info("")  // Output: (empty)

# Basic Usage

Create a file hook with automatic rotation detection:

	import (
	    "github.com/sirupsen/logrus"
	    "github.com/nabbar/reforkd/logger/config"
	    "github.com/nabbar/reforkd/logger/hookfile"
	)

	func main() {
	    // Configure file hook options
	    opts := config.OptionsFile{
	        Filepath:   "/var/log/myapp/app.log",
	        FileMode:   0644,
	        PathMode:   0755,
	        CreatePath: true,  // Create directories if needed
	        LogLevel:   []string{"info", "warning", "error"},
	        DisableStack:     true,
	        DisableTimestamp: false,
	        EnableTrace:      false,
	    }

	    // Create hook with JSON formatter
	    hook, err := hookfile.New(opts, &logrus.JSONFormatter{})
	    if err != nil {
	        panic(err)
	    }
	    defer hook.Close()

	    // Register hook with logger
	    logger := logrus.New()
	    logger.AddHook(hook)

	    // IMPORTANT: Use fields, not message parameter
	    logger.WithFields(logrus.Fields{
	        "msg":    "Application started",
	        "user":   "system",
	        "action": "startup",
	    }).Info("")
	    // Writes to /var/log/myapp/app.log with rotation detection
	}

# Configuration Options

The OptionsFile struct controls hook behavior:

Filepath (required): Path to the log file

	opts := config.OptionsFile{
	    Filepath: "/var/log/app.log",
	}

FileMode: File permissions (default: 0644)

	opts.FileMode = 0600  // Owner read/write only

PathMode: Directory permissions when creating paths (default: 0755)

	opts.PathMode = 0700  // Owner full access only

CreatePath: Create parent directories if they don't exist

	opts.CreatePath = true  // Enables rotation detection too

LogLevel: Log levels this hook should handle

	opts.LogLevel = []string{"error", "warning"}  // Only errors and warnings

DisableStack: Filter out stack trace fields

	opts.DisableStack = true  // Removes "stack" field from output

DisableTimestamp: Filter out timestamp fields

	opts.DisableTimestamp = true  // Removes "time" field from output

EnableTrace: Include caller/file/line information

	opts.EnableTrace = true  // Adds "caller", "file", "line" fields

EnableAccessLog: Use message-only mode (for HTTP access logs)

	opts.EnableAccessLog = true  // Message param is used, fields ignored

# Common Use Cases

## Production Application Logging

	opts := config.OptionsFile{
	    Filepath:   "/var/log/myapp/app.log",
	    FileMode:   0644,
	    PathMode:   0755,
	    CreatePath: true,
	    LogLevel:   []string{"info", "warning", "error"},
	}
	hook, _ := hookfile.New(opts, &logrus.JSONFormatter{})
	logger.AddHook(hook)

	// Configure logrotate:
	// /etc/logrotate.d/myapp:
	//   /var/log/myapp/app.log {
	//       daily
	//       rotate 7
	//       compress
	//       delaycompress
	//       missingok
	//       notifempty
	//   }
	//
	// Hook automatically detects rotation and reopens new file

## Separate Access Logs

	// Application logs (standard mode)
	appOpts := config.OptionsFile{
	    Filepath: "/var/log/myapp/app.log",
	    CreatePath: true,
	}
	appHook, _ := hookfile.New(appOpts, &logrus.JSONFormatter{})
	appLogger := logrus.New()
	appLogger.AddHook(appHook)

	// Access logs (access log mode)
	accessOpts := config.OptionsFile{
	    Filepath: "/var/log/myapp/access.log",
	    CreatePath: true,
	    EnableAccessLog: true,  // Message-only mode
	}
	accessHook, _ := hookfile.New(accessOpts, nil)
	accessLogger := logrus.New()
	accessLogger.AddHook(accessHook)

	// Application logging (uses fields)
	appLogger.WithField("msg", "Request processed").Info("")

	// Access logging (uses message)
	accessLogger.Info("GET /api/users - 200 OK - 45ms")

## Multiple Loggers, Single File

	// Multiple hooks writing to same file (efficient aggregation)
	opts := config.OptionsFile{
	    Filepath: "/var/log/shared.log",
	    CreatePath: true,
	}

	hook1, _ := hookfile.New(opts, &logrus.TextFormatter{})
	hook2, _ := hookfile.New(opts, &logrus.TextFormatter{})
	hook3, _ := hookfile.New(opts, &logrus.TextFormatter{})

	logger1 := logrus.New()
	logger1.AddHook(hook1)

	logger2 := logrus.New()
	logger2.AddHook(hook2)

	logger3 := logrus.New()
	logger3.AddHook(hook3)

	// All three loggers share the same file aggregator
	// Only one file descriptor is open
	// Reference count is 3

	hook1.Close()  // RefCount: 3 → 2
	hook2.Close()  // RefCount: 2 → 1
	hook3.Close()  // RefCount: 1 → 0 (file closed)

## Level-Specific Files

	// Error log file
	errorOpts := config.OptionsFile{
	    Filepath: "/var/log/myapp/error.log",
	    CreatePath: true,
	    LogLevel: []string{"error", "fatal", "panic"},
	}
	errorHook, _ := hookfile.New(errorOpts, &logrus.JSONFormatter{})

	// Debug log file
	debugOpts := config.OptionsFile{
	    Filepath: "/var/log/myapp/debug.log",
	    CreatePath: true,
	    LogLevel: []string{"debug"},
	    DisableStack: true,
	    DisableTimestamp: true,
	}
	debugHook, _ := hookfile.New(debugOpts, &logrus.TextFormatter{})

	logger := logrus.New()
	logger.AddHook(errorHook)
	logger.AddHook(debugHook)

	logger.WithField("msg", "Debug info").Debug("")     // → debug.log
	logger.WithField("msg", "Error occurred").Error("") // → error.log

# Performance Considerations

Write Performance:

  - Buffered aggregation reduces syscall overhead (250 byte buffer)
  - Multiple hooks to same file share single aggregator (no duplication)
  - Async writes available via aggregator AsyncFct callback
  - File sync runs every 1 second (balances durability and performance)

Memory Efficiency:

  - Reference counting prevents duplicate file handles
  - Entry duplication shares data structures where possible
  - Field filtering modifies duplicated entry without new allocations
  - Aggregator reuses buffers to minimize GC pressure

Rotation Detection Overhead:

  - Sync timer runs every 1 second (configurable in aggregator)
  - Stat syscalls: 2 per second (current FD + disk file)
  - Negligible CPU impact (<0.1% on modern systems)
  - Rotation reopening: ~1-5ms downtime during file switch

Scalability:

  - Thread-safe for concurrent writes from multiple goroutines
  - File aggregator uses channels for serialized writes
  - Supports hundreds of concurrent loggers writing to same file
  - Reference counting prevents resource leaks

Benchmarks (typical workload):

  - Single write: ~100-150µs (includes formatting + buffer)
  - Throughput: ~5000-10000 entries/sec (depends on formatter)
  - Memory: ~320KB per file aggregator (includes buffers)
  - Rotation detection: <1µs per sync cycle

# Thread Safety

The package is designed for thread-safe operation:

Safe Operations:
  - Multiple goroutines logging via same logger
  - Multiple loggers with hooks to the same file
  - Concurrent hook creation for the same filepath
  - Concurrent Close() calls on different hooks

Unsafe Operations:
  - Modifying OptionsFile after hook creation (immutable design)
  - Manually deleting log files while hook is active (rotation detection handles this)

Synchronization Mechanisms:
  - Atomic reference counting for file aggregators
  - Channel-based writes in aggregator package
  - Mutex-protected file operations in aggregator
  - Atomic bool for hook running state

# Error Handling

Construction Errors:

	hook, err := hookfile.New(config.OptionsFile{}, formatter)
	// err: "missing file path"

	hook, err := hookfile.New(config.OptionsFile{
	    Filepath: "/root/noperm.log",
	    CreatePath: false,
	}, formatter)
	// err: permission denied (if /root/noperm.log doesn't exist)

Runtime Errors:

	// Formatter error during Fire()
	err := hook.Fire(entry)  // Returns formatter.Format() error

	// Disk full error during Fire()
	err := hook.Fire(entry)  // Returns write error, logged to stderr

Rotation Errors:

  - File deleted externally: Automatically recreated on next sync
  - Permission changed: Error logged to stderr, continues with old FD
  - Disk full during rotation: Error logged to stderr, retries next sync

Silent Behaviors:

  - Empty log data: Fire() returns nil without writing
  - Empty access log message: Fire() returns nil without writing
  - Entry level not in LogLevel filter: Fire() returns nil (normal filtering)

# Integration with Other golib Packages

This package integrates with several other golib packages:

github.com/nabbar/reforkd/ioutils/aggregator:
  - Provides buffered, thread-safe write aggregation
  - Handles sync timer for rotation detection
  - Manages async callbacks if configured

github.com/nabbar/reforkd/logger/config:
  - Defines OptionsFile configuration structure
  - Provides FileMode and PathMode types
  - Used by all logger packages for consistency

github.com/nabbar/reforkd/logger/types:
  - Defines Hook interface (extended by HookFile)
  - Provides field name constants (FieldStack, FieldTime, etc.)
  - Ensures compatibility across logger packages

github.com/nabbar/reforkd/logger/level:
  - Parses log level strings ("debug", "info", etc.)
  - Converts to logrus.Level
  - Validates level names

github.com/nabbar/reforkd/ioutils:
  - PathCheckCreate for directory creation
  - Permission handling utilities

# Comparison with Standard File Logging

Standard logrus file logging (logger.SetOutput):

  - Single file per logger
  - No rotation detection
  - No buffering (direct writes)
  - No reference counting
  - No field filtering

HookFile advantages:

  - Automatic rotation detection
  - Multiple loggers sharing single file
  - Buffered aggregation
  - Reference-counted file handles
  - Per-hook field filtering
  - Per-hook level filtering
  - Per-hook formatting

HookFile disadvantages:

  - More complex architecture
  - Slight overhead from rotation detection
  - Requires understanding of hook behavior (fields vs message)

# Limitations

Known limitations of the package:

1. Rotation Detection Latency: Up to 1 second delay (sync timer interval)
  - Mitigation: Acceptable for most applications
  - Alternative: Decrease SyncTimer in aggregator config (not recommended <100ms)

2. Windows Limitations: File rotation detection less reliable on Windows
  - Reason: Windows file locking can prevent rotation
  - Mitigation: Use CreatePath=true, avoid manual file operations

3. Network File Systems: Rotation detection may not work on NFS/CIFS
  - Reason: Inode semantics vary across network filesystems
  - Mitigation: Test thoroughly, use local filesystems for logs

4. Reference Counting Leak: If Close() is never called, file handles leak
  - Mitigation: Always defer hook.Close() or use finalizers
  - Mitigation: Package init() sets finalizer on aggregator map

5. No Built-in Compression: Package doesn't compress rotated files
  - Mitigation: Use external tools (logrotate with compress option)

6. No Size-Based Rotation: Only detects external rotation
  - Mitigation: Use logrotate or similar tools for size-based rotation

# Best Practices

DO:
  - Always use CreatePath=true for production (enables rotation detection)
  - Configure external log rotation (logrotate, etc.)
  - Use defer hook.Close() to ensure cleanup
  - Use fields for log data, not message parameter (unless AccessLog mode)
  - Set appropriate FileMode/PathMode for security

DON'T:
  - Don't manually rotate files from within application (use external tools)
  - Don't modify log files while hook is active (use rotation instead)
  - Don't create hundreds of hooks to the same file (one per logger is enough)
  - Don't use EnableAccessLog for structured logging (use standard mode)
  - Don't log sensitive data without appropriate file permissions

TESTING:
  - Use ResetOpenFiles() in test cleanup (BeforeEach/AfterEach)
  - Create temporary directories for test files
  - Add delays before cleanup to allow goroutines to stop
  - Test with race detector enabled (CGO_ENABLED=1 go test -race)

# Testing

The package includes comprehensive tests with BDD methodology (Ginkgo v2 + Gomega):

	go test -v                    # Run all tests
	go test -race -v              # Run with race detector
	go test -cover                # Check code coverage
	go test -bench=.              # Run benchmarks

Test organization:

  - hookfile_test.go: Basic functionality tests
  - hookfile_concurrency_test.go: Thread safety tests
  - hookfile_integration_test.go: Rotation detection, multiple hooks
  - hookfile_benchmark_test.go: Performance benchmarks

Coverage target: >80% (current: 68.1%, needs improvement)

# Examples

See example_test.go for runnable examples demonstrating:

  - Basic file logging
  - Log rotation handling
  - Multiple loggers to single file
  - Access log mode
  - Level-specific filtering
  - Field filtering
  - Production-ready configuration

# Related Packages

  - github.com/nabbar/reforkd/logger/hookstdout: Hook for stdout output
  - github.com/nabbar/reforkd/logger/hookstderr: Hook for stderr output
  - github.com/nabbar/reforkd/logger/hookwriter: Base hook for custom io.Writer
  - github.com/nabbar/reforkd/logger: High-level logger abstraction

# License

MIT License - See LICENSE file for details.

Copyright (c) 2025 Nicolas JUHEL
*/
package hookfile
