package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cosem-go/internal/dlms"
)

var (
	decodeDisplay string

	encodeType  string
	encodeWire  string
	encodeValue string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a tagged value",
	Long: `Decode parses one tagged value and prints it as a tree.

Spaces and colons in the hex input are ignored. With --display, an octet
string is shown as the given date-time type.

Examples:
  cosem-tool decode 0202120001110A
  cosem-tool decode --display datetime "09 0C 07 E8 06 01 FF 0C 00 00 00 80 00 00"`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a text value as tagged hex",
	Long: `Encode parses --value as --type and prints the tagged wire form.

With --wire, the value is converted before encoding, for example a date-time
sent as its 12-byte octet string.`,
	RunE: runEncode,
}

func init() {
	decodeCmd.Flags().StringVar(&decodeDisplay, "display", "", "Display type for octet strings (datetime, date, time)")

	encodeCmd.Flags().StringVarP(&encodeType, "type", "T", "", "Value type (e.g. uint16, string, datetime)")
	encodeCmd.Flags().StringVar(&encodeWire, "wire", "", "Wire type if different from --type")
	encodeCmd.Flags().StringVarP(&encodeValue, "value", "V", "", "Value text")
	encodeCmd.MarkFlagRequired("type")
}

// parseHex accepts upper or lower case with optional separators.
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\t", "", "\n", "").Replace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

func decodeHex(s, display string) (dlms.Value, error) {
	data, err := parseHex(s)
	if err != nil {
		return dlms.Value{}, fmt.Errorf("invalid hex: %w", err)
	}
	t := dlms.TypeNone
	if display != "" {
		if t, err = dlms.ParseTypeName(display); err != nil {
			return dlms.Value{}, err
		}
	}
	v, n, err := dlms.DecodeAs(data, t)
	if err != nil {
		return dlms.Value{}, err
	}
	if n != len(data) {
		return dlms.Value{}, fmt.Errorf("%w: %d trailing bytes", dlms.ErrFormat, len(data)-n)
	}
	return v, nil
}

func encodeText(typeName, wireName, text string) (string, error) {
	t, err := dlms.ParseTypeName(typeName)
	if err != nil {
		return "", err
	}
	wire := t
	if wireName != "" {
		if wire, err = dlms.ParseTypeName(wireName); err != nil {
			return "", err
		}
	}
	v, err := dlms.ParseText(t, text)
	if err != nil {
		return "", err
	}
	data, err := dlms.EncodeAs(v, wire)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(data)), nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	v, err := decodeHex(args[0], decodeDisplay)
	if err != nil {
		return err
	}
	f := NewFormatter(cmd.OutOrStdout(), viper.GetString("output"))
	if f.format == FormatJSON {
		return f.JSON(valueJSON(v))
	}
	f.Tree(v)
	return nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	out, err := encodeText(encodeType, encodeWire, encodeValue)
	if err != nil {
		return err
	}
	f := NewFormatter(cmd.OutOrStdout(), viper.GetString("output"))
	if f.format == FormatJSON {
		return f.JSON(map[string]string{"hex": out})
	}
	f.Println(out)
	return nil
}
