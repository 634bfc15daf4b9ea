// Command client is a CLI demo client for the single-instrument exchange.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")

	submitCmd := flag.NewFlagSet("submit", flag.ExitOnError)
	submitSide := submitCmd.String("side", "buy", "Order side (buy/sell)")
	submitType := submitCmd.String("type", "limit", "Order type (limit/market)")
	submitTIF := submitCmd.String("tif", "gtc", "Time in force (gtc/ioc/fok)")
	submitPrice := submitCmd.String("price", "100.00", "Order price")
	submitQty := submitCmd.Uint("qty", 100, "Order quantity")
	submitTrader := submitCmd.Uint64("trader", 1, "Trader ID")

	cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
	cancelTrader := cancelCmd.Uint64("trader", 1, "Trader ID")
	cancelOrderID := cancelCmd.Uint64("order-id", 0, "Order ID to cancel")

	accountCmd := flag.NewFlagSet("account", flag.ExitOnError)
	accountTrader := accountCmd.Uint64("trader", 1, "Trader ID")

	addFundsCmd := flag.NewFlagSet("addfunds", flag.ExitOnError)
	addFundsTrader := addFundsCmd.Uint64("trader", 1, "Trader ID")
	addFundsAmount := addFundsCmd.String("amount", "10000.00", "Amount to credit")

	bookCmd := flag.NewFlagSet("book", flag.ExitOnError)
	bookDepth := bookCmd.Int("depth", 0, "Limit each side to this many levels (0 = all)")

	banCmd := flag.NewFlagSet("ban", flag.ExitOnError)
	banTrader := banCmd.Uint64("trader", 1, "Trader ID to ban")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	healthCmd := flag.NewFlagSet("health", flag.ExitOnError)
	recoverCmd := flag.NewFlagSet("recover", flag.ExitOnError)
	demoCmd := flag.NewFlagSet("demo", flag.ExitOnError)

	// Every subcommand accepts -server alongside its own flags.
	for _, fs := range []*flag.FlagSet{submitCmd, cancelCmd, accountCmd, addFundsCmd, bookCmd, banCmd, statsCmd, healthCmd, recoverCmd, demoCmd} {
		fs.StringVar(serverURL, "server", *serverURL, "Server URL")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "submit":
		submitCmd.Parse(os.Args[2:])
		submitOrder(*serverURL, *submitTrader, *submitSide, *submitType, *submitTIF, *submitPrice, uint32(*submitQty))
	case "cancel":
		cancelCmd.Parse(os.Args[2:])
		cancelOrder(*serverURL, *cancelTrader, *cancelOrderID)
	case "book":
		bookCmd.Parse(os.Args[2:])
		getBook(*serverURL, *bookDepth)
	case "ban":
		banCmd.Parse(os.Args[2:])
		banTraderCmd(*serverURL, *banTrader)
	case "account":
		accountCmd.Parse(os.Args[2:])
		getAccount(*serverURL, *accountTrader)
	case "addfunds":
		addFundsCmd.Parse(os.Args[2:])
		addFunds(*serverURL, *addFundsTrader, *addFundsAmount)
	case "stats":
		statsCmd.Parse(os.Args[2:])
		getJSON(*serverURL + "/stats")
	case "health":
		healthCmd.Parse(os.Args[2:])
		getJSON(*serverURL + "/health")
	case "recover":
		recoverCmd.Parse(os.Args[2:])
		getJSON(*serverURL + "/recover")
	case "demo":
		demoCmd.Parse(os.Args[2:])
		runDemo(*serverURL)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Exchange Client

Usage:
  client <command> [options]

Commands:
  submit    Submit a new order
  cancel    Cancel an existing order
  book      View the order book
  account   View account details
  addfunds  Credit a trader's available balance
  ban       Ban a trader and cancel all their resting orders
  stats     View system statistics
  health    Check server health
  recover   Force a WAL replay
  demo      Run a demonstration

Examples:
  client submit -trader 1 -side buy -type limit -price 100.00 -qty 10
  client cancel -trader 1 -order-id 3
  client book
  client account -trader 1
  client addfunds -trader 1 -amount 10000.00
  client stats
  client demo`)
}

func submitOrder(serverURL string, trader uint64, side, orderType, tif, price string, qty uint32) {
	req := map[string]interface{}{
		"trader_id":     trader,
		"side":          side,
		"order_type":    orderType,
		"time_in_force": tif,
		"price":         price,
		"quantity":      qty,
	}
	resp, err := postJSON(serverURL+"/order", req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Order Response:")
	printJSON(resp)
}

func cancelOrder(serverURL string, trader, orderID uint64) {
	url := fmt.Sprintf("%s/cancel?trader_id=%d&order_id=%d", serverURL, trader, orderID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println("Cancel Response:")
	printJSONBytes(body)
}

func getBook(serverURL string, depth int) {
	url := serverURL + "/book"
	if depth > 0 {
		url = fmt.Sprintf("%s?depth=%d", url, depth)
	}
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var data map[string]interface{}
	json.Unmarshal(body, &data)

	fmt.Println("\n=== Order Book ===")
	if asks, ok := data["asks"].([]interface{}); ok {
		fmt.Println("ASKS:")
		for i := len(asks) - 1; i >= 0; i-- {
			if ask, ok := asks[i].(map[string]interface{}); ok {
				fmt.Printf("  %v @ %v\n", ask["qty"], ask["price"])
			}
		}
	}
	if bids, ok := data["bids"].([]interface{}); ok {
		fmt.Println("BIDS:")
		for _, bid := range bids {
			if b, ok := bid.(map[string]interface{}); ok {
				fmt.Printf("  %v @ %v\n", b["qty"], b["price"])
			}
		}
	}
}

func getAccount(serverURL string, trader uint64) {
	getJSON(fmt.Sprintf("%s/account?trader_id=%d", serverURL, trader))
}

func addFunds(serverURL string, trader uint64, amount string) {
	resp, err := postJSON(serverURL+"/addfunds", map[string]interface{}{
		"trader_id": trader,
		"amount":    amount,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Add Funds Response:")
	printJSON(resp)
}

func banTraderCmd(serverURL string, trader uint64) {
	url := fmt.Sprintf("%s/ban?trader_id=%d", serverURL, trader)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println("Ban Response:")
	printJSONBytes(body)
}

func getJSON(url string) {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	printJSONBytes(body)
}

func runDemo(serverURL string) {
	fmt.Println("=== Exchange Demo ===")

	fmt.Println("1. Initial order book (empty):")
	getBook(serverURL, 0)

	fmt.Println("\n2. Crediting trader 1 and trader 2:")
	addFunds(serverURL, 1, "1000000.00")
	addFunds(serverURL, 2, "1000000.00")

	fmt.Println("\n3. Market maker (trader 1) posts buy orders:")
	submitOrder(serverURL, 1, "buy", "limit", "gtc", "99.00", 100)
	submitOrder(serverURL, 1, "buy", "limit", "gtc", "98.50", 200)

	fmt.Println("\n4. Market maker (trader 1) posts sell orders:")
	submitOrder(serverURL, 1, "sell", "limit", "gtc", "101.00", 100)
	submitOrder(serverURL, 1, "sell", "limit", "gtc", "101.50", 200)

	fmt.Println("\n5. Order book with liquidity:")
	getBook(serverURL, 0)

	fmt.Println("\n6. Trader 2 crosses the book with a limit buy at 101.00:")
	submitOrder(serverURL, 2, "buy", "limit", "gtc", "101.00", 50)

	fmt.Println("\n7. Order book after trade:")
	getBook(serverURL, 0)

	fmt.Println("\n8. System statistics:")
	getJSON(serverURL + "/stats")

	fmt.Println("\n=== Demo Complete ===")
}

func postJSON(url string, data interface{}) (map[string]interface{}, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(body, &result)
	return result, err
}

func printJSON(data interface{}) {
	jsonBytes, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(jsonBytes))
}

func printJSONBytes(data []byte) {
	var obj interface{}
	json.Unmarshal(data, &obj)
	printJSON(obj)
}
