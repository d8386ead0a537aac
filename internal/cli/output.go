package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// PrintError prints an error message to w
func PrintError(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "Error: "+format+"\n", args...)
}

// printer writes command output to the command's stdout.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(cmd *cobra.Command, s *state) *printer {
	return &printer{w: cmd.OutOrStdout(), json: s.json}
}

func (p *printer) success(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "✅ "+format+"\n", args...)
}

func (p *printer) warning(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "⚠️  "+format+"\n", args...)
}

func (p *printer) info(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) header(title string) {
	fmt.Fprintln(p.w, title)
	fmt.Fprintln(p.w, strings.Repeat("=", len(title)))
}

func (p *printer) divider() {
	fmt.Fprintln(p.w, strings.Repeat("-", 70))
}

// message prints m as indented JSON.
func (p *printer) message(m proto.Message) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

// Accessors for loosely typed responses. Missing keys read as zero values.

func field(st *structpb.Struct, key string) *structpb.Value {
	if st == nil {
		return nil
	}
	return st.GetFields()[key]
}

func str(st *structpb.Struct, key string) string {
	return field(st, key).GetStringValue()
}

func num(st *structpb.Struct, key string) float64 {
	return field(st, key).GetNumberValue()
}

func boolean(st *structpb.Struct, key string) bool {
	return field(st, key).GetBoolValue()
}

func sub(st *structpb.Struct, key string) *structpb.Struct {
	return field(st, key).GetStructValue()
}

func has(st *structpb.Struct, key string) bool {
	v := field(st, key)
	if v == nil {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func strs(st *structpb.Struct, key string) []string {
	var out []string
	for _, v := range field(st, key).GetListValue().GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

// when renders an RFC 3339 timestamp in local time, or "never".
func when(ts string) string {
	if ts == "" {
		return "never"
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
