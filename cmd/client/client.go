package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fenrir/internal/common"
	fenrirNet "fenrir/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'change', 'log']")

	ticker := flag.String("ticker", "AAPL", "Ticker symbol")
	exchange := flag.String("exchange", "FENRIR", "Exchange name")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit', 'market', or 'stop'")
	flagStr := flag.String("flag", "none", "Order flag: 'none', 'fok', 'aon', or 'ioc'")
	price := flag.Float64("price", 100.0, "Limit/stop trigger price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	stopTarget := flag.String("stop-target", "", "Order id a stop order targets (required for -type stop)")

	orderID := flag.String("id", "", "Order id to cancel or change")

	flag.Parse()

	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	go readReports(conn)

	side := parseSide(*sideStr)
	orderType := parseOrderType(*typeStr)
	flagVal := parseFlag(*flagStr)

	switch strings.ToLower(*action) {
	case "place":
		for _, q := range parseQuantities(*qtyStr) {
			msg := fenrirNet.NewOrderMessage{
				AssetType:    common.Equities,
				Ticker:       *ticker,
				Exchange:     *exchange,
				OrderType:    orderType,
				Flag:         flagVal,
				Side:         side,
				Price:        *price,
				Volume:       float64(q),
				StopTargetID: *stopTarget,
				Username:     *owner,
			}
			if _, err := conn.Write(msg.Serialize()); err != nil {
				log.Printf("Failed to place order (Qty: %d): %v", q, err)
			} else {
				fmt.Printf("-> Sent %s %s order: %s %d @ %.2f\n", strings.ToUpper(*sideStr), strings.ToUpper(*typeStr), *ticker, q, *price)
			}
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == "" {
			log.Fatal("Error: -id is required for cancellation")
		}
		msg := fenrirNet.CancelOrderMessage{
			AssetType: common.Equities,
			Ticker:    *ticker,
			Exchange:  *exchange,
			Side:      side,
			Price:     *price,
			OrderID:   *orderID,
		}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Printf("Failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> Sent cancel request for id: %s\n", *orderID)
		}

	case "change":
		if *orderID == "" {
			log.Fatal("Error: -id is required for change")
		}
		msg := fenrirNet.ChangeOrderMessage{
			AssetType: common.Equities,
			Ticker:    *ticker,
			Exchange:  *exchange,
			Side:      side,
			Price:     *price,
			Volume:    float64(mustParseUint(strings.Split(*qtyStr, ",")[0])),
			Flag:      flagVal,
			OrderID:   *orderID,
			Username:  *owner,
		}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Printf("Failed to send change request: %v", err)
		} else {
			fmt.Printf("-> Sent change request for id: %s\n", *orderID)
		}

	case "log":
		if _, err := conn.Write(fenrirNet.LogBookMessage()); err != nil {
			log.Printf("Failed to send log request: %v", err)
		} else {
			fmt.Println("-> Sent log request")
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

func parseSide(s string) common.Side {
	if strings.ToLower(s) == "sell" {
		return common.Sell
	}
	return common.Buy
}

func parseOrderType(s string) common.OrderType {
	switch strings.ToLower(s) {
	case "market":
		return common.MarketOrder
	case "stop":
		return common.StopOrder
	default:
		return common.LimitOrder
	}
}

func parseFlag(s string) common.OrderFlag {
	switch strings.ToLower(s) {
	case "fok":
		return common.FillOrKill
	case "aon":
		return common.AllOrNone
	case "ioc":
		return common.ImmediateOrCancel
	default:
		return common.NoFlag
	}
}

func parseQuantities(input string) []uint64 {
	var result []uint64
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: invalid quantity %q, skipping", p)
		}
	}
	return result
}

func mustParseUint(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// readReports continuously reads and prints Report messages from the server.
func readReports(conn net.Conn) {
	for {
		buf := make([]byte, 4*1024)
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		report, err := fenrirNet.ParseReport(buf[:n])
		if err != nil {
			log.Printf("Error parsing report: %v", err)
			continue
		}

		if report.MessageType == fenrirNet.ErrorReport {
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
			continue
		}

		if report.EventType == common.EventTrade {
			fmt.Printf("\n[TRADE] %s %s | vol=%.2f @ %.2f | taker=%s makers=%v\n",
				report.AssetType, report.Ticker, report.TradeVolume, report.TradePrice, report.TakerID, report.MakerIDs)
			continue
		}

		fmt.Printf("\n[%s] %s %s | id=%s price=%.2f volume=%.2f filled=%.2f\n",
			report.EventType, report.Side, report.Ticker, report.OrderID, report.Price, report.Volume, report.Filled)
	}
}
