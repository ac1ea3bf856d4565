package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lightningnetwork/lntools/zpay32"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lntools] %v\n", err)
	os.Exit(1)
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(b))
}

func main() {
	app := cli.NewApp()
	app.Name = "lntools"
	app.Version = "0.1.0"
	app.Usage = "offline tools for the Lightning Network protocol"
	app.Commands = []cli.Command{
		decodeInvoiceCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

var decodeInvoiceCommand = cli.Command{
	Name:      "decodeinvoice",
	Usage:     "Decode a bech32 encoded payment request.",
	ArgsUsage: "pay_req",
	Description: "Decode the passed payment request revealing the " +
		"destination, payment hash and value of the payment request",
	Action: decodeInvoice,
}

// decodedInvoice is the JSON rendering of a decoded payment request.
type decodedInvoice struct {
	Network            string   `json:"network"`
	AmountPico         uint64   `json:"amount_pico,omitempty"`
	Timestamp          int64    `json:"timestamp"`
	Destination        string   `json:"destination"`
	PaymentHash        string   `json:"payment_hash,omitempty"`
	Description        string   `json:"description,omitempty"`
	DescriptionHash    string   `json:"description_hash,omitempty"`
	ExpirySeconds      float64  `json:"expiry_seconds"`
	MinFinalCLTVExpiry uint64   `json:"min_final_cltv_expiry"`
	FallbackAddr       string   `json:"fallback_addr,omitempty"`
	RouteHintHops      int      `json:"route_hint_hops,omitempty"`
	UnknownFieldTypes  []uint8  `json:"unknown_field_types,omitempty"`
}

func decodeInvoice(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "decodeinvoice")
	}

	invoice, err := zpay32.Decode(ctx.Args().First())
	if err != nil {
		return err
	}

	resp := decodedInvoice{
		Network:            invoice.Net.Name,
		Timestamp:          invoice.Timestamp.Unix(),
		Destination:        hex.EncodeToString(invoice.Destination.SerializeCompressed()),
		ExpirySeconds:      invoice.Expiry().Seconds(),
		MinFinalCLTVExpiry: invoice.MinFinalCLTVExpiry(),
		RouteHintHops:      len(invoice.RoutingInfo()),
	}
	if invoice.AmountPico != nil {
		resp.AmountPico = uint64(*invoice.AmountPico)
	}
	if hash := invoice.PaymentHash(); hash != nil {
		resp.PaymentHash = hex.EncodeToString(hash[:])
	}
	if desc := invoice.Description(); desc != nil {
		resp.Description = *desc
	}
	if hash := invoice.DescriptionHash(); hash != nil {
		resp.DescriptionHash = hex.EncodeToString(hash[:])
	}
	if addr := invoice.FallbackAddr(); addr != nil {
		resp.FallbackAddr = addr.EncodeAddress()
	}
	for _, unknown := range invoice.UnknownFields() {
		resp.UnknownFieldTypes = append(
			resp.UnknownFieldTypes, uint8(unknown.FieldType),
		)
	}

	printJSON(resp)
	return nil
}
