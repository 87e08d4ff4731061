package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// 历史K线文件表头，时间戳为秒级 Unix 时间。
var csvHeader = []string{"Timestamp", "Low", "High", "Open", "Close", "Volume"}

// ReadCandles 解析历史K线 CSV 文件。
func ReadCandles(r io.Reader) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("market: 读取表头失败: %w", err)
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("market: 表头第%d列应为 %s，实际为 %s", i+1, name, header[i])
		}
	}

	var candles []Candle
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("market: 解析第%d行失败: %w", line, err)
		}
		line++

		ts, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("market: 第%d行时间戳无效: %w", line, err)
		}

		fields := make([]decimal.Decimal, 5)
		for i := 1; i < len(record); i++ {
			value, err := decimal.NewFromString(record[i])
			if err != nil {
				return nil, fmt.Errorf("market: 第%d行第%d列数值无效: %w", line, i+1, err)
			}
			fields[i-1] = value
		}

		candles = append(candles, Candle{
			Start:  time.Unix(ts, 0).UTC(),
			Low:    fields[0],
			High:   fields[1],
			Open:   fields[2],
			Close:  fields[3],
			Volume: fields[4],
		})
	}

	return candles, nil
}

// WriteCandles 以历史K线 CSV 格式输出。
func WriteCandles(w io.Writer, candles []Candle) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("market: 写入表头失败: %w", err)
	}
	for _, c := range candles {
		record := []string{
			strconv.FormatInt(c.Start.Unix(), 10),
			c.Low.String(),
			c.High.String(),
			c.Open.String(),
			c.Close.String(),
			c.Volume.String(),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("market: 写入K线失败: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
