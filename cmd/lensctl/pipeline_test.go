package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"topiclens/internal/config"
	"topiclens/internal/model"
	"topiclens/internal/storage"
	"topiclens/internal/stream"
)

type memorySink struct {
	rows    []model.DecodedTopics
	errs    []model.DecodeError
	flushes int
}

func (m *memorySink) PutDecodedBatch(_ context.Context, rows []model.DecodedTopics) error {
	m.rows = append(m.rows, rows...)
	m.flushes++
	return nil
}

func (m *memorySink) PutErrorBatch(_ context.Context, errs []model.DecodeError) error {
	m.errs = append(m.errs, errs...)
	return nil
}

func TestDrainNativePipeline(t *testing.T) {
	input := strings.Join([]string{
		`{"topics":["0xaa","0xbb"],"number":2,"chain_id":56,"block_number":9,"tx_hash":"0x01","log_index":4,"address":"0xcc"}`,
		`null`,
		``,
		`{"topics":["0xaa"]}`,
		`{"topics":["0xaa"],"number":1,"abi":"[{"}`,
		`{"topics":"0xdd","number":1,"value":"7"}`,
	}, "\n")

	src := &lineSource{reader: storage.NewLineReader(strings.NewReader(input))}
	sink := &memorySink{}
	var saved uint64
	w := &resultWriter{
		sink:      sink,
		logger:    zap.NewNop(),
		batchSize: 2,
		onFlush: func(_ context.Context, lastSeq uint64) error {
			saved = lastSeq
			return nil
		},
	}

	tr := stream.NewTransformer(src, nil, nil)
	step := func(context.Context) (stream.Option[[]byte], error) { return tr.Next() }
	if err := drain(context.Background(), src, step, w, nil); err != nil {
		t.Fatalf("drain: %v", err)
	}

	c := w.counts
	if c.total != 5 || c.decoded != 2 || c.absent != 1 || c.failed != 2 {
		t.Fatalf("counters mismatch: %+v", c)
	}
	if saved != 6 {
		t.Fatalf("last committed seq should be 6, got %d", saved)
	}

	if len(sink.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sink.rows))
	}
	first := sink.rows[0]
	if first.Seq != 1 || first.ChainID != 56 || first.LogIndex != 4 || first.IndexTopic1 != "0xbb" || first.IndexTopic2 != model.ZeroTopic {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if sink.rows[1].Seq != 6 || sink.rows[1].Value != "7" {
		t.Fatalf("unexpected last row: %+v", sink.rows[1])
	}

	if len(sink.errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(sink.errs))
	}
	if sink.errs[0].Seq != 4 || sink.errs[0].Kind != stream.ErrorKindInputShape {
		t.Fatalf("unexpected shape error: %+v", sink.errs[0])
	}
	if sink.errs[1].Seq != 5 || sink.errs[1].Kind != stream.ErrorKindABIParse {
		t.Fatalf("unexpected abi error: %+v", sink.errs[1])
	}
}

func TestDrainStopsOnFatal(t *testing.T) {
	src := &lineSource{reader: storage.NewLineReader(strings.NewReader(`{}`))}
	w := &resultWriter{sink: &memorySink{}, logger: zap.NewNop(), batchSize: 1}
	boom := errors.New("trap")

	step := func(context.Context) (stream.Option[[]byte], error) { return stream.Option[[]byte]{}, boom }
	err := drain(context.Background(), src, step, w, func(error) bool { return true })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !isHostFailure(boom) {
		t.Fatalf("plain error should be a host failure")
	}
}

func TestResumedDecodeKeepsCommittedOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DecodeConfig{
		Out:    filepath.Join(dir, "decoded_topics.jsonl"),
		Errors: filepath.Join(dir, "decode_errors.jsonl"),
	}
	committedRow := `{"seq":1,"index_topic_0":"0xaa"}`
	committedErr := `{"seq":2,"kind":"input_shape"}`
	if err := os.WriteFile(cfg.Out, []byte(committedRow+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(cfg.Errors, []byte(committedErr+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	input := strings.Join([]string{
		`{"topics":["0xaa"],"number":1}`,
		`{"topics":["0xaa"]}`,
		`{"topics":["0xbb"],"number":1}`,
		`{"topics":["0xcc"],"number":1,"abi":"[{"}`,
	}, "\n")

	sink, err := openJSONL(cfg, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	src := &lineSource{reader: storage.NewLineReader(strings.NewReader(input)), skipThrough: 2}
	w := &resultWriter{sink: sink, logger: zap.NewNop(), batchSize: 10}
	tr := stream.NewTransformer(src, nil, nil)
	step := func(context.Context) (stream.Option[[]byte], error) { return tr.Next() }
	if err := drain(context.Background(), src, step, w, nil); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows := readLines(t, cfg.Out)
	if len(rows) != 2 || rows[0] != committedRow {
		t.Fatalf("committed row lost or resumed row missing: %q", rows)
	}
	var row model.DecodedTopics
	if err := json.Unmarshal([]byte(rows[1]), &row); err != nil || row.Seq != 3 || row.IndexTopic0 != "0xbb" {
		t.Fatalf("unexpected resumed row: %s (%v)", rows[1], err)
	}
	errs := readLines(t, cfg.Errors)
	if len(errs) != 2 || errs[0] != committedErr {
		t.Fatalf("committed error lost or resumed error missing: %q", errs)
	}

	// A fresh run starts the outputs over.
	fresh, err := openJSONL(cfg, false)
	if err != nil {
		t.Fatalf("open fresh: %v", err)
	}
	if err := fresh.Close(); err != nil {
		t.Fatalf("close fresh: %v", err)
	}
	if rows := readLines(t, cfg.Out); len(rows) != 0 {
		t.Fatalf("fresh run should truncate, got %q", rows)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestLineSourceSkipsCommittedLines(t *testing.T) {
	src := &lineSource{
		reader:      storage.NewLineReader(strings.NewReader("{\"a\":1}\n{\"b\":2}\n")),
		skipThrough: 1,
	}
	in, err := src.Pull()
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	payload, ok := in.Item.Get()
	if !ok || string(payload) != `{"b":2}` || src.seq != 2 {
		t.Fatalf("unexpected pull: %q seq=%d", payload, src.seq)
	}
	in, _ = src.Pull()
	if !in.Item.IsEndOfStream() {
		t.Fatalf("expected end of stream, got %s", in.Item.Kind())
	}
}

func TestWithABI(t *testing.T) {
	abiJSON := []byte(`[{"type":"event","name":"Ping","inputs":[]}]`)

	injected := withABI([]byte(`{"topics":["0xaa"],"number":1}`), abiJSON)
	rec, err := model.ParseInputRecord(injected)
	if err != nil {
		t.Fatalf("parse injected: %v", err)
	}
	if string(rec.ABI) != string(abiJSON) {
		t.Fatalf("abi not injected: %s", injected)
	}

	own := []byte(`{"topics":[],"number":0,"abi":[]}`)
	if got := withABI(own, abiJSON); string(got) != string(own) {
		t.Fatalf("record abi must win: %s", got)
	}

	broken := []byte(`{"topics":`)
	if got := withABI(broken, abiJSON); string(got) != string(broken) {
		t.Fatalf("unparseable line must pass through: %s", got)
	}
}

func TestLoadABI(t *testing.T) {
	if data, err := loadABI("", ""); err != nil || data != nil {
		t.Fatalf("no abi expected: %s %v", data, err)
	}
	if _, err := loadABI("erc20", "x.json"); err == nil {
		t.Fatalf("preset and file together should fail")
	}
	if data, err := loadABI("erc20", ""); err != nil || len(data) == 0 {
		t.Fatalf("preset: %v", err)
	}

	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(good, []byte(`[{"type":"event","name":"Ping","inputs":[]}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(bad, []byte(`{`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadABI("", good); err != nil {
		t.Fatalf("good file: %v", err)
	}
	if _, err := loadABI("", bad); err == nil {
		t.Fatalf("bad file should fail")
	}

	abis, err := parseABIMap(map[string]string{"0x00000000000000000000000000000000000000aa": "erc20"})
	if err != nil || len(abis) != 1 {
		t.Fatalf("abi map: %v %v", abis, err)
	}
	if _, err := parseABIMap(map[string]string{"nope": "erc20"}); err == nil {
		t.Fatalf("bad address should fail")
	}
}

func TestResultWriterRejectsBadOutput(t *testing.T) {
	sink := &memorySink{}
	w := &resultWriter{sink: sink, logger: zap.NewNop(), batchSize: 10}
	if err := w.value(context.Background(), 3, model.LogRef{}, []byte(`not json`)); err != nil {
		t.Fatalf("value: %v", err)
	}
	if err := w.flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if w.counts.failed != 1 || w.counts.total != 1 || len(sink.errs) != 1 {
		t.Fatalf("bad output should be one failure: %+v", w.counts)
	}
	data, _ := json.Marshal(sink.errs[0])
	if !strings.Contains(string(data), `"kind":"transport"`) {
		t.Fatalf("unexpected error record: %s", data)
	}
}
