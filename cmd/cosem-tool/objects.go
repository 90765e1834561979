package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
	"cosem-go/internal/store"
	"cosem-go/internal/xmlstore"
)

var (
	exportOut string

	importIn      string
	importReplace bool

	readLN      string
	readClassID uint16
	readAll     bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every stored object to an XML document",
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load objects from an XML document into the store",
	Long: `Import decodes an XML document and saves its objects. Objects already
stored under the same class and logical name are only overwritten with
--replace.`,
	RunE: runImport,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored objects",
	RunE:  runList,
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Run a read pass over a stored object",
	Long: `Read selects the attributes a read pass would fetch, reads them through
the access service and prints one result per attribute. Static attributes
read successfully are marked read in the store, so a second pass skips them
unless --all is given.`,
	RunE: runRead,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "-", "Output file (- for stdout)")

	importCmd.Flags().StringVar(&importIn, "in", "", "Input XML document")
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "Overwrite stored objects")
	importCmd.MarkFlagRequired("in")

	readCmd.Flags().StringVar(&readLN, "ln", "", "Logical name (A.B.C.D.E.F)")
	readCmd.Flags().Uint16Var(&readClassID, "class", 0, "Class id, when several objects share the logical name")
	readCmd.Flags().BoolVar(&readAll, "all", false, "Read every attribute")
	readCmd.MarkFlagRequired("ln")
}

func openStore() (*store.BoltStore, *cosem.Factory, error) {
	factory, err := newFactory()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.NewBoltStore(viper.GetString("db"), store.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return db, factory, nil
}

func loadCollection(db store.Store, factory *cosem.Factory) (*cosem.Collection, error) {
	objs, err := db.ListObjects(factory)
	if err != nil {
		return nil, err
	}
	c := cosem.NewCollection()
	for _, obj := range objs {
		if err := c.Add(obj); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	db, factory, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := loadCollection(db, factory)
	if err != nil {
		return err
	}
	if exportOut == "-" {
		return xmlstore.NewEncoder(cmd.OutOrStdout()).Encode(c.Sorted())
	}
	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	if err := xmlstore.NewEncoder(f).Encode(c.Sorted()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("exported", "objects", c.Len(), "file", exportOut)
	return nil
}

// importObjects saves objs into db and returns how many were written.
// Existing objects are skipped unless replace is set.
func importObjects(db store.Store, factory *cosem.Factory, objs []cosem.Object, replace bool) (int, error) {
	existing, err := loadCollection(db, factory)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, obj := range objs {
		id := obj.Identity()
		if _, ok := existing.Find(id.ClassID, id.LogicalName); ok && !replace {
			logger.Warn("object exists, skipped", "class_id", id.ClassID, "ln", id.LogicalName)
			continue
		}
		if err := db.SaveObject(obj); err != nil {
			return n, fmt.Errorf("save %s %s: %w", id.Type, id.LogicalName, err)
		}
		n++
	}
	return n, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	db, factory, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(importIn)
	if err != nil {
		return err
	}
	defer f.Close()

	objs, err := xmlstore.NewDecoder(f, factory, logger).Decode()
	if err != nil {
		return fmt.Errorf("decode %s: %w", importIn, err)
	}
	n, err := importObjects(db, factory, objs, importReplace)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d objects\n", n, len(objs))
	return nil
}

// objectRow is one line of the list output.
type objectRow struct {
	ClassID     uint16 `json:"class_id"`
	Type        string `json:"type"`
	LogicalName string `json:"logical_name"`
	Version     uint8  `json:"version"`
	ShortName   uint16 `json:"short_name,omitempty"`
	Description string `json:"description,omitempty"`
	Attributes  int    `json:"attributes"`
}

func objectRows(c *cosem.Collection) []objectRow {
	rows := make([]objectRow, 0, c.Len())
	for _, obj := range c.Sorted() {
		id := obj.Identity()
		rows = append(rows, objectRow{
			ClassID:     id.ClassID,
			Type:        id.Type.String(),
			LogicalName: id.LogicalName.String(),
			Version:     id.Version,
			ShortName:   id.ShortName,
			Description: id.Description,
			Attributes:  obj.AttributeCount(),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	db, factory, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := loadCollection(db, factory)
	if err != nil {
		return err
	}
	rows := objectRows(c)
	f := NewFormatter(cmd.OutOrStdout(), viper.GetString("output"))
	if f.format == FormatJSON {
		return f.JSON(rows)
	}
	table := make([][]string, len(rows))
	for i, r := range rows {
		sn := ""
		if r.ShortName != 0 {
			sn = fmt.Sprintf("0x%04X", r.ShortName)
		}
		table[i] = []string{strconv.Itoa(int(r.ClassID)), r.Type, r.LogicalName, strconv.Itoa(int(r.Version)), sn, r.Description}
	}
	f.PrintTable([]string{"CLASS", "TYPE", "LOGICAL NAME", "VER", "SN", "DESCRIPTION"}, table)
	return nil
}

// readObject runs a read pass over the stored object named ln and saves
// its updated read state.
func readObject(db store.Store, factory *cosem.Factory, ln cosem.LogicalName, classID uint16, all bool) ([]access.AttributeResult, error) {
	c, err := loadCollection(db, factory)
	if err != nil {
		return nil, err
	}
	var obj cosem.Object
	var ok bool
	if classID != 0 {
		obj, ok = c.Find(classID, ln)
	} else {
		obj, ok = c.FindByLogicalName(ln)
	}
	if !ok {
		return nil, fmt.Errorf("object %s: %w", ln, store.ErrNotFound)
	}

	session, err := db.GetSession()
	if errors.Is(err, store.ErrNotFound) {
		session = &store.SessionState{}
	} else if err != nil {
		return nil, err
	}
	service := access.NewService(session.Settings(), nil, logger)
	results := service.ReadPending(obj, all)
	if err := db.SaveObject(obj); err != nil {
		return results, err
	}
	return results, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	ln, err := cosem.ParseLogicalName(readLN)
	if err != nil {
		return err
	}
	db, factory, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := readObject(db, factory, ln, readClassID, readAll)
	if err != nil {
		return err
	}
	return printResults(NewFormatter(cmd.OutOrStdout(), viper.GetString("output")), results)
}

// resultRow is the printable form of an attribute result.
type resultRow struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Result string `json:"result"`
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

func printResults(f *Formatter, results []access.AttributeResult) error {
	rows := make([]resultRow, len(results))
	for i, r := range results {
		rows[i] = resultRow{
			Index:  r.Index,
			Name:   r.Name,
			Type:   r.Type.String(),
			Result: r.Result.String(),
			Value:  r.Value.Text(),
		}
		if r.Err != nil {
			rows[i].Error = r.Err.Error()
		}
	}
	if f.format == FormatJSON {
		return f.JSON(rows)
	}
	table := make([][]string, len(rows))
	for i, r := range rows {
		value := r.Value
		if r.Error != "" {
			value = r.Error
		}
		table[i] = []string{strconv.Itoa(r.Index), r.Name, r.Type, r.Result, value}
	}
	f.PrintTable([]string{"IDX", "NAME", "TYPE", "RESULT", "VALUE"}, table)
	return nil
}
