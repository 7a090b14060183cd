package app

import (
	"testing"
)

func TestParseCommand_DefaultsToWorker(t *testing.T) {
	cmd := ParseCommand([]string{})
	if cmd != CommandWorker {
		t.Errorf("ParseCommand([]) = %q, want %q", cmd, CommandWorker)
	}
}

func TestParseCommand_Worker(t *testing.T) {
	cmd := ParseCommand([]string{"worker"})
	if cmd != CommandWorker {
		t.Errorf("ParseCommand([worker]) = %q, want %q", cmd, CommandWorker)
	}
}

func TestParseCommand_Serve(t *testing.T) {
	cmd := ParseCommand([]string{"serve"})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([serve]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseCommand_Migrate(t *testing.T) {
	cmd := ParseCommand([]string{"migrate"})
	if cmd != CommandMigrate {
		t.Errorf("ParseCommand([migrate]) = %q, want %q", cmd, CommandMigrate)
	}
}

func TestParseCommand_Sync(t *testing.T) {
	cmd := ParseCommand([]string{"sync"})
	if cmd != CommandSync {
		t.Errorf("ParseCommand([sync]) = %q, want %q", cmd, CommandSync)
	}
}

func TestParseCommand_Healthcheck(t *testing.T) {
	cmd := ParseCommand([]string{"healthcheck"})
	if cmd != CommandHealthcheck {
		t.Errorf("ParseCommand([healthcheck]) = %q, want %q", cmd, CommandHealthcheck)
	}
}

func TestParseCommand_UnknownDefaultsToWorker(t *testing.T) {
	cmd := ParseCommand([]string{"unknown"})
	if cmd != CommandWorker {
		t.Errorf("ParseCommand([unknown]) = %q, want %q", cmd, CommandWorker)
	}
}

func TestParseCommand_IgnoresExtraArgs(t *testing.T) {
	cmd := ParseCommand([]string{"migrate", "--flag", "value"})
	if cmd != CommandMigrate {
		t.Errorf("ParseCommand([migrate --flag value]) = %q, want %q", cmd, CommandMigrate)
	}
}
