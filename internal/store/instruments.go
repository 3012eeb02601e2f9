package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
)

// DhanScripMasterURL is the public security master published by Dhan,
// covering instruments across NSE and BSE.
const DhanScripMasterURL = "https://images.dhan.co/api-data/api-scrip-master.csv"

// Instrument is one row of the security master. Field names follow the
// published CSV headers.
type Instrument struct {
	ExchangeSegment string `csv:"SEM_EXM_EXCH_ID"`
	SecurityID      string `csv:"SEM_SMST_SECURITY_ID"`
	Symbol          string `csv:"SEM_TRADING_SYMBOL"`
	Name            string `csv:"SM_SYMBOL_NAME"`
	InstrumentType  string `csv:"SEM_INSTRUMENT_NAME"`
	LotSize         int    `csv:"SEM_LOT_UNITS"`
	TickSize        string `csv:"SEM_TICK_SIZE"`
}

// InstrumentMaster resolves trading symbols to broker security IDs from a
// security master CSV. Lookups are in-memory after one load.
type InstrumentMaster struct {
	log zerolog.Logger
	hc  *http.Client

	mu       sync.RWMutex
	bySymbol map[string]Instrument
	loadedAt time.Time
}

// NewInstrumentMaster creates an empty instrument master.
func NewInstrumentMaster(log zerolog.Logger) *InstrumentMaster {
	return &InstrumentMaster{
		log:      log.With().Str("component", "instruments").Logger(),
		hc:       &http.Client{Timeout: 60 * time.Second},
		bySymbol: make(map[string]Instrument),
	}
}

// LoadFile loads the security master from a local CSV file.
func (m *InstrumentMaster) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening instrument master: %w", err)
	}
	defer f.Close()
	return m.load(f)
}

// Download fetches the security master from the given URL (falling back to
// the Dhan scrip master) and loads it.
func (m *InstrumentMaster) Download(ctx context.Context, url string) error {
	if url == "" {
		url = DhanScripMasterURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.hc.Do(req)
	if err != nil {
		return fmt.Errorf("downloading instrument master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("instrument master download returned status %d", resp.StatusCode)
	}
	return m.load(resp.Body)
}

func (m *InstrumentMaster) load(r io.Reader) error {
	var rows []Instrument
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return fmt.Errorf("parsing instrument master: %w", err)
	}

	bySymbol := make(map[string]Instrument, len(rows))
	for _, row := range rows {
		if row.Symbol == "" {
			continue
		}
		bySymbol[strings.ToUpper(row.Symbol)] = row
	}

	m.mu.Lock()
	m.bySymbol = bySymbol
	m.loadedAt = time.Now()
	m.mu.Unlock()

	m.log.Info().Int("instruments", len(bySymbol)).Msg("Instrument master loaded")
	return nil
}

// Lookup resolves a trading symbol to its instrument record.
func (m *InstrumentMaster) Lookup(symbol string) (Instrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.bySymbol[strings.ToUpper(symbol)]
	return inst, ok
}

// SecurityID resolves a trading symbol to the broker security ID, falling
// back to the symbol itself when the master has no entry.
func (m *InstrumentMaster) SecurityID(symbol string) string {
	if inst, ok := m.Lookup(symbol); ok {
		return inst.SecurityID
	}
	return symbol
}

// Len returns the number of loaded instruments.
func (m *InstrumentMaster) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySymbol)
}
