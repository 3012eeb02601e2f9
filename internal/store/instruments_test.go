package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const scripMasterSample = `SEM_EXM_EXCH_ID,SEM_SMST_SECURITY_ID,SEM_TRADING_SYMBOL,SM_SYMBOL_NAME,SEM_INSTRUMENT_NAME,SEM_LOT_UNITS,SEM_TICK_SIZE
NSE,11536,TCS,Tata Consultancy Services,EQUITY,1,0.05
NSE,3045,SBIN,State Bank of India,EQUITY,1,0.05
BSE,500325,RELIANCE,Reliance Industries,EQUITY,1,0.05
NSE,,,,EQUITY,1,0.05
`

func TestInstrumentMasterLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrip-master.csv")
	if err := os.WriteFile(path, []byte(scripMasterSample), 0o644); err != nil {
		t.Fatalf("writing sample: %v", err)
	}

	m := NewInstrumentMaster(zerolog.Nop())
	if err := m.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	// The row with no symbol is dropped.
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}

	inst, ok := m.Lookup("tcs")
	if !ok {
		t.Fatal("Lookup(tcs) = false, want case-insensitive hit")
	}
	if inst.SecurityID != "11536" || inst.ExchangeSegment != "NSE" {
		t.Errorf("instrument = %+v", inst)
	}

	if got := m.SecurityID("SBIN"); got != "3045" {
		t.Errorf("SecurityID(SBIN) = %q, want 3045", got)
	}
	// Unknown symbols fall back to themselves.
	if got := m.SecurityID("UNLISTED"); got != "UNLISTED" {
		t.Errorf("SecurityID(UNLISTED) = %q, want passthrough", got)
	}
}

func TestInstrumentMasterMissingFile(t *testing.T) {
	m := NewInstrumentMaster(zerolog.Nop())
	if err := m.LoadFile(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("LoadFile() on a missing file succeeded")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after failed load", m.Len())
	}
}
