package proto

import (
	"testing"

	"securecrdt/internal/testutil"
)

func FuzzDecodeFrame(f *testing.F) {
	f.Add([]byte{'S', 'C', Version, byte(KindPush), 0, 0, 0, 0, 1, 0, 0, 0, 1, '{'})
	f.Add([]byte{'S', 'C', Version, byte(KindReply), FlagCompressed, 0, 0, 1, 0, 0, 0, 0, 4, 0x1f, 'a', 0, 1})
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.CapBytes(data, testutil.DefaultMaxFuzzBytes)
		testutil.WithTimeout(t, testutil.DefaultFuzzTimeout, func() {
			fr, err := DecodeFrame(data)
			if err != nil {
				return
			}
			if _, err := EncodeFrame(fr.Kind, fr.Payload); err != nil {
				t.Fatalf("decoded frame does not re-encode: %v", err)
			}
		})
	})
}
