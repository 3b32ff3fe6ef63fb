// Package protocol implements the line-oriented TCP server spec.md §6
// specifies: PUT/INSERT/GET/QUERY commands, whitespace-tokenized and
// newline-terminated, each connection served by its own goroutine over
// Go's netpoller — the same "task-per-connection atop a multiplexed I/O
// runtime" model spec.md §5 describes.
package protocol

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/devraj-patil/flashseries/series"
	"github.com/devraj-patil/flashseries/store"
)

// Legacy single-value convention (spec.md §9's resolved Open Question):
// a bare PUT writes under this measurement and field name.
const (
	legacyMeasurement = "default"
	legacyField       = "value"
)

// Server accepts connections on a net.Listener and serves the line
// protocol on each.
type Server struct {
	listener net.Listener
	store    *store.Store
	logger   *zap.Logger
}

// NewServer binds addr and returns a Server ready to Serve.
func NewServer(addr string, st *store.Store, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("protocol: listen on %s: %w", addr, err)
	}
	return &Server{listener: ln, store: st, logger: logger.With(zap.String("component", "protocol"))}, nil
}

// Addr returns the listener's bound address (useful when addr was ":0").
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine. It returns the listener's terminal error (nil is
// never returned; a closed listener surfaces net.ErrClosed-wrapping).
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s.dispatch(w, line)

		if err := w.Flush(); err != nil {
			s.logger.Warn("write to connection failed", zap.Error(err))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("connection read failed", zap.Error(err))
	}
}

func (s *Server) dispatch(w *bufio.Writer, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	var err error
	switch strings.ToUpper(fields[0]) {
	case "PUT":
		err = s.handlePut(w, fields[1:])
	case "INSERT":
		err = s.handleInsert(w, fields[1:])
	case "GET":
		err = s.handleGet(w, fields[1:])
	case "QUERY":
		err = s.handleQuery(w, fields[1:])
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}

	if err != nil {
		fmt.Fprintf(w, "ERROR: %s\n", err.Error())
	}
}

func (s *Server) handlePut(w *bufio.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("PUT requires <ts> <value>")
	}
	ts, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", args[0], err)
	}
	val, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	p := series.DataPoint{Timestamp: ts, Tags: map[string]string{}, Fields: map[string]float64{legacyField: val}}
	if err := s.store.WritePoint(legacyMeasurement, p); err != nil {
		return err
	}
	fmt.Fprint(w, "OK\n")
	return nil
}

func (s *Server) handleInsert(w *bufio.Writer, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("INSERT requires <measurement>[,tag=val,...] <field=val,...> <ts>")
	}

	measurement, tags, err := parseSeriesSpec(args[0])
	if err != nil {
		return err
	}
	fieldVals, err := parseFieldAssignments(args[1])
	if err != nil {
		return err
	}
	ts, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", args[2], err)
	}

	p := series.DataPoint{Timestamp: ts, Tags: tags, Fields: fieldVals}
	if err := s.store.WritePoint(measurement, p); err != nil {
		return err
	}
	fmt.Fprint(w, "OK\n")
	return nil
}

func (s *Server) handleGet(w *bufio.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("GET requires <start> <end>")
	}
	start, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid start %q: %w", args[0], err)
	}
	end, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid end %q: %w", args[1], err)
	}

	result, err := s.store.Query(series.Key{Measurement: legacyMeasurement, Tags: map[string]string{}}, []string{legacyField}, start, end)
	if err != nil {
		return err
	}

	var points []store.Point
	for _, byField := range result {
		points = append(points, byField[legacyField]...)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].TS < points[j].TS })

	for _, p := range points {
		fmt.Fprintf(w, "%d %s\n", p.TS, formatFloat(p.Value))
	}
	fmt.Fprint(w, "OK\n")
	return nil
}

func (s *Server) handleQuery(w *bufio.Writer, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("QUERY requires <measurement>[,tag=val,...] <field,field|*> <start> [<end>]")
	}

	measurement, tags, err := parseSeriesSpec(args[0])
	if err != nil {
		return err
	}

	var requestedFields []string
	if args[1] != "*" {
		requestedFields = strings.Split(args[1], ",")
	}

	start, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid start %q: %w", args[2], err)
	}

	end := uint64(math.MaxUint64)
	if len(args) == 4 {
		end, err = strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid end %q: %w", args[3], err)
		}
	}

	result, err := s.store.Query(series.Key{Measurement: measurement, Tags: tags}, requestedFields, start, end)
	if err != nil {
		return err
	}

	keys := make([]series.Key, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Canonical() < keys[j].Canonical() })

	for _, key := range keys {
		fmt.Fprintf(w, "# series: %s\n", formatSeriesSpec(key.Measurement, key.Tags))

		byField := result[key]
		fieldNames := make([]string, 0, len(byField))
		for name := range byField {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)

		for _, name := range fieldNames {
			fmt.Fprintf(w, "## field: %s\n", name)
			for _, p := range byField[name] {
				fmt.Fprintf(w, "%d %s\n", p.TS, formatFloat(p.Value))
			}
		}
	}
	fmt.Fprint(w, "OK\n")
	return nil
}
