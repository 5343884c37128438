package sim

import (
	"context"
	"fmt"
	"io"
)

// SourceSpec 描述回放数据源。
type SourceSpec struct {
	Kind          string // csv | redis
	CSVPath       string
	Layout        string
	RedisURL      string
	RedisPassword string
	Stream        string
	PageSize      int64
}

// OpenSource 按 Kind 构造数据源，返回的 Closer 释放底层连接。
func OpenSource(ctx context.Context, spec SourceSpec) (Source, io.Closer, error) {
	switch spec.Kind {
	case "csv":
		return NewCSVSource(spec.CSVPath, spec.Layout), io.NopCloser(nil), nil
	case "redis":
		client, err := DialRedis(ctx, spec.RedisURL, spec.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisSource(client, spec.Stream, spec.PageSize), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown replay source %q", spec.Kind)
	}
}
