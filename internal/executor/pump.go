package executor

import (
	"bytes"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// pumpStats is what the pump learned from watching the stream go by.
type pumpStats struct {
	InputTokens  int
	OutputTokens int
	ChunkCount   int
	HadToolCalls bool
	SawUsage     bool
	BytesWritten int64
}

var doneFrame = []byte("data: [DONE]\n\n")

// pumpSSE copies upstream bytes to the client unmodified, flushing after
// every write so frames are delivered as they arrive. A side buffer
// accumulates the same bytes to find newline-delimited `data:` frames for
// usage and tool-call observation; parsing never delays or alters the copy.
//
// On an upstream read error a terminal [DONE] frame is emitted so clients
// see a clean SSE end. On a client write error the pump stops reading and
// returns; the caller closes the upstream body.
func pumpSSE(dst io.Writer, src io.Reader) (pumpStats, error) {
	var stats pumpStats
	flusher, _ := dst.(http.Flusher)
	var lineBuf bytes.Buffer
	buf := make([]byte, 32*1024)

	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			stats.BytesWritten += int64(w)
			flush()
			if werr != nil {
				finishStats(&stats)
				return stats, werr
			}
			observeFrames(&lineBuf, buf[:n], &stats)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, werr := dst.Write(doneFrame); werr == nil {
				stats.BytesWritten += int64(len(doneFrame))
				flush()
			}
			finishStats(&stats)
			return stats, err
		}
	}

	observeFrames(&lineBuf, nil, &stats)
	finishStats(&stats)
	return stats, nil
}

// observeFrames appends chunk to the line buffer and parses every complete
// line. Incomplete trailing lines wait for the next chunk; a nil chunk
// flushes whatever remains.
func observeFrames(lineBuf *bytes.Buffer, chunk []byte, stats *pumpStats) {
	lineBuf.Write(chunk)
	for {
		raw := lineBuf.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			if chunk == nil && len(raw) > 0 {
				observeLine(raw, stats)
				lineBuf.Reset()
			}
			return
		}
		line := make([]byte, i)
		copy(line, raw[:i])
		lineBuf.Next(i + 1)
		observeLine(line, stats)
	}
}

func observeLine(line []byte, stats *pumpStats) {
	line = bytes.TrimSpace(line)
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return
	}
	stats.ChunkCount++

	if !gjson.ValidBytes(payload) {
		return // best-effort only; bytes were already forwarded
	}
	if usage := gjson.GetBytes(payload, "usage"); usage.IsObject() {
		stats.InputTokens = int(usage.Get("prompt_tokens").Int())
		stats.OutputTokens = int(usage.Get("completion_tokens").Int())
		stats.SawUsage = true
	}
	for _, choice := range gjson.GetBytes(payload, "choices").Array() {
		if tc := choice.Get("delta.tool_calls"); tc.IsArray() && len(tc.Array()) > 0 {
			stats.HadToolCalls = true
		}
	}
}

// finishStats fills the output estimate when the provider never sent usage.
func finishStats(stats *pumpStats) {
	if !stats.SawUsage {
		stats.OutputTokens = (3*stats.ChunkCount + 1) / 2
	}
}
