package sim

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// StreamClient 是回放归档用到的 Redis Stream 命令，*redis.Client 满足该接口。
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// DialRedis 解析 URL 建立连接并 ping 校验。
func DialRedis(ctx context.Context, url, password string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opt.Password = password
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Stream 中每条消息的字段名。
const (
	fieldOrderID = "order_id"
	fieldAction  = "action"
	fieldQty     = "qty"
	fieldPrice   = "price"
	fieldSide    = "side"
	fieldTime    = "ts"
	fieldSeq     = "seq"
)

// RedisSource 以 XRANGE 分页读取归档，消息 ID 为 "<unix毫秒>-<序号>"。
type RedisSource struct {
	client   StreamClient
	stream   string
	pageSize int64
}

func NewRedisSource(client StreamClient, stream string, pageSize int64) *RedisSource {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &RedisSource{client: client, stream: stream, pageSize: pageSize}
}

func (s *RedisSource) Open(_ context.Context, iv Interval) (Cursor, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	return &redisCursor{
		src:  s,
		next: strconv.FormatInt(iv.Start.UnixMilli(), 10),
		end:  strconv.FormatInt(iv.End.UnixMilli(), 10),
		iv:   iv,
	}, nil
}

type redisCursor struct {
	src    *RedisSource
	next   string
	end    string
	iv     Interval
	buf    []redis.XMessage
	done   bool
	closed bool
}

func (c *redisCursor) Next(ctx context.Context) (Row, error) {
	for {
		if c.closed {
			return Row{}, io.EOF
		}
		if len(c.buf) == 0 {
			if c.done {
				return Row{}, io.EOF
			}
			if err := c.fetch(ctx); err != nil {
				return Row{}, err
			}
			continue
		}
		msg := c.buf[0]
		c.buf = c.buf[1:]
		row, err := decodeMessage(msg)
		if err != nil {
			return Row{}, fmt.Errorf("stream %s message %s: %w", c.src.stream, msg.ID, err)
		}
		if !c.iv.Contains(row.DateTime) {
			continue
		}
		return row, nil
	}
}

func (c *redisCursor) fetch(ctx context.Context) error {
	msgs, err := c.src.client.XRangeN(ctx, c.src.stream, c.next, c.end, c.src.pageSize).Result()
	if err != nil {
		return fmt.Errorf("xrange %s: %w", c.src.stream, err)
	}
	if int64(len(msgs)) < c.src.pageSize {
		c.done = true
	}
	if len(msgs) == 0 {
		c.done = true
		return nil
	}
	c.buf = msgs
	// 以 "(" 前缀表示排除上一页最后一条
	c.next = "(" + msgs[len(msgs)-1].ID
	return nil
}

func (c *redisCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}

func decodeMessage(msg redis.XMessage) (Row, error) {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	qty, err := strconv.ParseInt(str(fieldQty), 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("qty: %w", err)
	}
	px, err := decimal.NewFromString(str(fieldPrice))
	if err != nil {
		return Row{}, fmt.Errorf("price: %w", err)
	}
	side, err := ParseSide(str(fieldSide))
	if err != nil {
		return Row{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, str(fieldTime))
	if err != nil {
		return Row{}, fmt.Errorf("ts: %w", err)
	}
	seq, _ := strconv.ParseInt(str(fieldSeq), 10, 64)
	return Row{
		OrderID:  str(fieldOrderID),
		Action:   ParseAction(str(fieldAction)),
		Qty:      qty,
		Price:    px,
		Side:     side,
		DateTime: ts.UTC(),
		Seq:      seq,
	}, nil
}

// RedisArchive 把归档行写入 Stream，ID 随时间严格递增。
type RedisArchive struct {
	client  StreamClient
	stream  string
	lastMs  int64
	lastSeq int64
}

func NewRedisArchive(client StreamClient, stream string) *RedisArchive {
	return &RedisArchive{client: client, stream: stream, lastMs: -1}
}

// Append 按 (dateTime, seq) 排序后写入，返回写入条数。
func (a *RedisArchive) Append(ctx context.Context, rows []Row) (int, error) {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].before(sorted[j]) })

	for i, r := range sorted {
		id := a.nextID(r.DateTime.UnixMilli())
		err := a.client.XAdd(ctx, &redis.XAddArgs{
			Stream: a.stream,
			ID:     id,
			Values: map[string]interface{}{
				fieldOrderID: r.OrderID,
				fieldAction:  string(rune(r.Action)),
				fieldQty:     strconv.FormatInt(r.Qty, 10),
				fieldPrice:   r.Price.String(),
				fieldSide:    SideCode(r.Side),
				fieldTime:    r.DateTime.UTC().Format(time.RFC3339Nano),
				fieldSeq:     strconv.FormatInt(r.Seq, 10),
			},
		}).Err()
		if err != nil {
			return i, fmt.Errorf("xadd %s %s: %w", a.stream, id, err)
		}
	}
	return len(sorted), nil
}

func (a *RedisArchive) nextID(ms int64) string {
	if ms <= a.lastMs {
		ms = a.lastMs
		a.lastSeq++
	} else {
		a.lastMs = ms
		a.lastSeq = 0
	}
	return fmt.Sprintf("%d-%d", ms, a.lastSeq)
}
