// tradestats 从交易所 JSON 日志统计各客户端成交。
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"exchange-sim/posttrade"
)

func main() {
	logPath := flag.String("log", "logs/exchange.log", "交易所日志路径")
	symbol := flag.String("symbol", "", "仅统计指定标的 (默认全量)")
	sinceStr := flag.String("since", "", "仅统计此时间之后的记录 (RFC3339)")
	flag.Parse()

	var filter posttrade.Filter
	filter.Symbol = *symbol
	if *sinceStr != "" {
		since, err := time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
		filter.Since = since
	}

	f, err := os.Open(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法读取日志: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	rep, err := posttrade.Analyze(f, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取日志出错: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("统计文件: %s (%d 行, 跳过 %d)\n", *logPath, rep.Lines, rep.Skipped)
	if filter.Symbol != "" {
		fmt.Printf("标的: %s\n", filter.Symbol)
	}
	if !filter.Since.IsZero() {
		fmt.Printf("起始时间: %s\n", filter.Since.Format(time.RFC3339))
	}
	fmt.Printf("%-16s %8s %10s %10s %10s %14s %14s %14s\n",
		"client", "trades", "bought", "sold", "net", "buy vwap", "sell vwap", "cash flow")
	for _, id := range rep.ClientIDs() {
		s := rep.Clients[id]
		fmt.Printf("%-16s %8d %10d %10d %10d %14s %14s %14s\n",
			id, s.Trades, s.BoughtQty, s.SoldQty, s.Net(),
			s.BuyVWAP().StringFixed(4), s.SellVWAP().StringFixed(4), s.CashFlow().StringFixed(4))
	}
}
