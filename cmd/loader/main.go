// loader 把 CSV 归档写入回放使用的 Redis Stream。
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"exchange-sim/sim"
)

func main() {
	csvPath := flag.String("csv", "data/events.csv", "CSV 归档路径")
	layout := flag.String("layout", "2006-01-02 15:04:05", "dateTime 列的时间格式")
	redisURL := flag.String("redis", "redis://localhost:6379", "Redis 地址")
	password := flag.String("password", "", "Redis 密码")
	stream := flag.String("stream", "exsim:events", "目标 Stream")
	reset := flag.Bool("reset", false, "写入前删除已有 Stream")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rows, err := sim.ReadCSV(*csvPath, *layout)
	if err != nil {
		log.Fatalf("读取归档失败: %v", err)
	}
	client, err := sim.DialRedis(ctx, *redisURL, *password)
	if err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}
	defer client.Close()

	if *reset {
		if err := client.Del(ctx, *stream).Err(); err != nil {
			log.Fatalf("删除 %s 失败: %v", *stream, err)
		}
	}

	start := time.Now()
	n, err := sim.NewRedisArchive(client, *stream).Append(ctx, rows)
	if err != nil {
		log.Fatalf("写入中断（已写入 %d 条）: %v", n, err)
	}
	log.Printf("写入 %d 条到 %s，耗时 %s", n, *stream, time.Since(start).Round(time.Millisecond))
}
