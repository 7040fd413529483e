package storage

import "github.com/apache/arrow/go/v15/parquet/compress"

// CodecMode selects the compression tradeoff for written partition files.
type CodecMode string

const (
	// CodecFast favors write throughput over file size. Default.
	CodecFast CodecMode = "fast"
	// CodecHighRatio favors smaller files over write throughput; opt-in
	// via WithCodec.
	CodecHighRatio CodecMode = "high_ratio"
)

func (m CodecMode) compression() compress.Compression {
	if m == CodecHighRatio {
		return compress.Codecs.Zstd
	}
	return compress.Codecs.Snappy
}
