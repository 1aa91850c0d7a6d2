/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testFile string = `test.log`

func newLogger(t *testing.T) *Logger {
	p := filepath.Join(t.TempDir(), testFile)
	fout, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	return New(fout)
}

func TestNew(t *testing.T) {
	lgr := newLogger(t)
	if lgr.GetLevel() != INFO {
		t.Fatalf("unexpected default level: %v", lgr.GetLevel())
	}
	if err := lgr.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSetLevel(t *testing.T) {
	lgr := newLogger(t)
	defer lgr.Close()
	if err := lgr.SetLevel(WARN); err != nil {
		t.Fatal(err)
	}
	if lgr.GetLevel() != WARN {
		t.Fatalf("level did not change: %v", lgr.GetLevel())
	}
	if err := lgr.SetLevel(Level(99)); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestInfofWritesLine(t *testing.T) {
	p := filepath.Join(t.TempDir(), testFile)
	lgr, err := NewFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := lgr.Infof("hello %s", "world"); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Close(); err != nil {
		t.Fatal(err)
	}
	bts, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(bts), "hello world") {
		t.Fatalf("missing log line: %s", string(bts))
	}
}

func TestStructuredKV(t *testing.T) {
	p := filepath.Join(t.TempDir(), testFile)
	lgr, err := NewFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := lgr.Error("something broke", KVErr(fmt.Errorf("boom")), KV("origin", "arithmetic")); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Close(); err != nil {
		t.Fatal(err)
	}
	bts, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	s := string(bts)
	if !strings.Contains(s, "something broke") || !strings.Contains(s, "error=\"boom\"") || !strings.Contains(s, "origin=\"arithmetic\"") {
		t.Fatalf("missing structured fields: %s", s)
	}
}

func TestLevelFromString(t *testing.T) {
	for _, s := range []string{"OFF", "debug", "Info", "WARN", "error", "CRITICAL", "fatal"} {
		if _, err := LevelFromString(s); err != nil {
			t.Fatalf("failed to parse level %q: %v", s, err)
		}
	}
	if _, err := LevelFromString("bogus"); err == nil {
		t.Fatal("expected error for bogus level")
	}
}

func TestDiscardLogger(t *testing.T) {
	lgr := NewDiscardLogger()
	if err := lgr.Infof("nobody sees this"); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Close(); err != nil {
		t.Fatal(err)
	}
}
