package market

import (
	"strconv"
	"sync/atomic"
	"testing"

	"exchange-sim/event"
)

func seedBook(b *testing.B, depth int) *OrderBook {
	b.Helper()
	book := newBook()
	for i := 0; i < depth; i++ {
		if err := book.Add(order("seed", "b"+strconv.Itoa(i), event.SideBuy, 10, int64(100-i%50))); err != nil {
			b.Fatalf("seed bid: %v", err)
		}
		if err := book.Add(order("seed", "o"+strconv.Itoa(i), event.SideSell, 10, int64(101+i%50))); err != nil {
			b.Fatalf("seed offer: %v", err)
		}
	}
	return book
}

// BenchmarkAddDeleteResting 非成交挂单的插入与撤销
func BenchmarkAddDeleteResting(b *testing.B) {
	for _, depth := range []int{10, 1000} {
		b.Run("depth"+strconv.Itoa(depth), func(b *testing.B) {
			book := seedBook(b, depth)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ev := order("bench", strconv.Itoa(i), event.SideBuy, 5, int64(60+i%40))
				if err := book.Add(ev); err != nil {
					b.Fatalf("add: %v", err)
				}
				book.Delete(ev)
			}
		})
	}
}

// BenchmarkCrossingOrder 每次吃掉一张卖单后补回
func BenchmarkCrossingOrder(b *testing.B) {
	book := seedBook(b, 100)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := strconv.Itoa(i)
		if err := book.Add(order("maker", "m"+id, event.SideSell, 5, 101)); err != nil {
			b.Fatalf("maker: %v", err)
		}
		if err := book.Add(order("taker", "t"+id, event.SideBuy, 5, 101)); err != nil {
			b.Fatalf("taker: %v", err)
		}
	}
}

// BenchmarkSnapshot 快照复制两侧挂单
func BenchmarkSnapshot(b *testing.B) {
	book := seedBook(b, 500)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = book.Snapshot()
	}
}

// BenchmarkConcurrentAdd 多个会话并发下单
func BenchmarkConcurrentAdd(b *testing.B) {
	book := seedBook(b, 100)
	var seq atomic.Int64
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			id := strconv.FormatInt(seq.Add(1), 10)
			ev := order("bench", id, event.SideBuy, 5, 90)
			if err := book.Add(ev); err != nil {
				b.Errorf("add: %v", err)
				return
			}
			book.Delete(ev)
		}
	})
}
