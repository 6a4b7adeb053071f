package buildhost

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/ssrpack/internal/plugin"
)

// adjustSourceMap keeps the linked source map of a chunk aligned after the
// RenderChunk hooks turned original into rendered. Whole prepended lines are
// accounted for; any other rewrite leaves the map approximate.
func adjustSourceMap(bundle *plugin.Bundle, chunk, original, rendered string) error {
	if original == rendered {
		return nil
	}
	mapFile, ok := bundle.Get(chunk + ".map")
	if !ok {
		return nil
	}

	prefix, ok := strings.CutSuffix(rendered, original)
	if !ok || !strings.HasSuffix(prefix, "\n") {
		log.Debug().Str("chunk", chunk).Msg("Chunk rewritten in place, source map left unchanged")
		return nil
	}

	shifted, err := shiftMappings(mapFile.Contents, strings.Count(prefix, "\n"))
	if err != nil {
		return fmt.Errorf("failed to adjust source map of %s: %w", chunk, err)
	}
	mapFile.Contents = shifted
	return nil
}

// shiftMappings moves every mapping of a source map down by lines generated
// lines. Each ";" in the mappings field starts a new generated line.
func shiftMappings(sourceMap []byte, lines int) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(sourceMap, &fields); err != nil {
		return nil, err
	}

	var mappings string
	if raw, ok := fields["mappings"]; ok {
		if err := json.Unmarshal(raw, &mappings); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(strings.Repeat(";", lines) + mappings)
	if err != nil {
		return nil, err
	}
	fields["mappings"] = raw
	return json.Marshal(fields)
}
