package kanoctx

import (
	"io"

	"github.com/BurntSushi/toml"
)

func tomlEncode(w io.Writer, v any) error {
	return toml.NewEncoder(w).Encode(v)
}

func tomlDecodeString(s string, v any) (toml.MetaData, error) {
	return toml.Decode(s, v)
}
