package refptr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaults(t *testing.T) {
	saved := Defaults()
	defer SetDefaults(saved)

	if saved.Counting != AtomicCounting {
		t.Errorf("default Counting = %v, want atomic", saved.Counting)
	}

	SetDefaults(Options{Counting: PlainCounting})
	sp := MakeShared(1)
	defer sp.Release()
	if sp.Block().Counting() != PlainCounting {
		t.Errorf("block Counting = %v, want plain", sp.Block().Counting())
	}

	sp2 := MakeShared(2, WithCounting(AtomicCounting))
	defer sp2.Release()
	if sp2.Block().Counting() != AtomicCounting {
		t.Errorf("override Counting = %v, want atomic", sp2.Block().Counting())
	}
	if Defaults().Counting != PlainCounting {
		t.Error("per-call option leaked into the defaults")
	}
}

func TestWithLogger(t *testing.T) {
	var out bytes.Buffer
	l := zerolog.New(&out)

	c := &closer{err: bytes.ErrTooLarge}
	sp := NewShared(c, WithLogger(l))
	sp.Release()

	if c.closed != 1 {
		t.Fatalf("closed = %d, want 1", c.closed)
	}
	if !strings.Contains(out.String(), "close on teardown failed") {
		t.Errorf("close error not logged, output: %q", out.String())
	}
}

func TestSilentByDefault(t *testing.T) {
	saved := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	defer zerolog.SetGlobalLevel(saved)

	d := Defaults()
	if d.Logger != nil {
		t.Fatal("default options carry a logger")
	}
	if lvl := d.logger().GetLevel(); lvl != zerolog.Disabled {
		t.Errorf("default logger level = %v, want disabled", lvl)
	}

	var out bytes.Buffer
	l := zerolog.New(&out)
	for i := 0; i < 3; i++ {
		MakeShared(i, WithLogger(l)).Release()
	}
	if got := strings.Count(out.String(), "control block reclaimed"); got != 3 {
		t.Errorf("opted-in logger saw %d reclaim events, want 3", got)
	}
}
