package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/aql"
	"github.com/aep/healthdesk/bus"
	"github.com/aep/healthdesk/config"
	"github.com/aep/healthdesk/export"
	"github.com/aep/healthdesk/list"
	"github.com/aep/healthdesk/view"
)

var (
	search   string
	sortBy   string
	page     int
	pageSize int
	follow   bool
	outDir   string

	listCmd = &cobra.Command{
		Use:     "list [kind] [predicate...]",
		Aliases: []string{"ls"},
		Short:   "List records, filtered, sorted and paged",
		Long: `List records of a kind.

Predicates use the query syntax: region=Northern, region={Northern,Eastern},
partner~health, year>=2019. A whole query can be given instead of a kind:

  healthdesk list '(sort=year:desc, size=5) partner-mapping(region=Northern)'`,
		Args: cobra.MinimumNArgs(1),
		RunE: runList,
	}

	exportCmd = &cobra.Command{
		Use:   "export [kind] [predicate...]",
		Short: "Export every matching record as CSV",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExport,
	}
)

func init() {
	for _, c := range []*cobra.Command{listCmd, exportCmd} {
		c.Flags().StringVarP(&search, "search", "s", "", "search text across the kind's search fields")
		c.Flags().StringVar(&sortBy, "sort", "", "sort as field or field:desc")
	}
	listCmd.Flags().IntVarP(&page, "page", "p", 0, "page number")
	listCmd.Flags().IntVar(&pageSize, "page-size", 0, "records per page")
	listCmd.Flags().BoolVarP(&follow, "follow", "w", false, "keep the list open and re-render when records change")
	exportCmd.Flags().StringVarP(&outDir, "output", "o", ".", "directory to write the CSV file to")
}

// buildQuery reads either a full query or a kind followed by predicates,
// then applies the flags on top.
func buildQuery(args []string) (*aql.Query, error) {
	var q *aql.Query
	if strings.ContainsAny(args[0], "()") {
		parsed, err := aql.Parse(strings.Join(args, " "))
		if err != nil {
			return nil, err
		}
		q = parsed
	} else {
		spec, err := aql.ParseFilter(strings.Join(args[1:], ", "))
		if err != nil {
			return nil, err
		}
		q = &aql.Query{Kind: args[0]}
		if len(spec) > 0 {
			q.Filter = spec
		}
	}

	if _, err := api.LookupKind(q.Kind); err != nil {
		return nil, err
	}

	if search != "" {
		if q.Filter == nil {
			q.Filter = list.FilterSpec{}
		}
		q.Filter[list.SearchKey] = list.Contains(search)
	}
	if sortBy != "" {
		s, err := list.ParseSort(sortBy)
		if err != nil {
			return nil, err
		}
		q.Sort = s
	}
	if page > 0 {
		q.Page = page
	}
	if pageSize > 0 {
		q.PageSize = pageSize
	}
	return q, nil
}

// render writes a page as an aligned table followed by a paging footer.
func render(w io.Writer, kind *api.Kind, items []api.Record, info list.PageInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	header := []string{"ID"}
	for _, c := range kind.Columns {
		header = append(header, strings.ToUpper(c.Header))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, rec := range items {
		row := []string{rec.Key()}
		for _, c := range kind.Columns {
			v, _ := rec.Field(c.Key)
			row = append(row, cell(v.String()))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if info.TotalItems == 0 {
		_, err := fmt.Fprintln(w, "no records")
		return err
	}
	_, err := fmt.Fprintf(w, "%d-%d of %d, page %d/%d\n",
		info.Start, info.End, info.TotalItems, info.CurrentPage, info.TotalPages)
	return err
}

func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 40 {
		return string(r[:39]) + "…"
	}
	return s
}

func runList(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args)
	if err != nil {
		return err
	}
	c, err := getClient()
	if err != nil {
		return err
	}

	if search != "" {
		rememberSearch(cmd.Context(), q.Kind, search)
	}

	if follow {
		return followList(cmd.Context(), cmd.OutOrStdout(), c.All, q)
	}

	rsp, err := c.List(cmd.Context(), q)
	if err != nil {
		return err
	}
	kind, err := api.LookupKind(rsp.Kind)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), kind, rsp.Items, rsp.Pagination)
}

// applyQuery moves a view to the state q describes.
func applyQuery(v *view.View, q *aql.Query) {
	for key, p := range q.Filter.Active() {
		if key == list.SearchKey && p.Op == list.OpText {
			v.SetSearch(p.Text)
			continue
		}
		v.SetFilter(key, p)
	}
	v.SetSort(q.Sort)
	if q.PageSize > 0 {
		v.SetPageSize(q.PageSize)
	}
	if q.Page > 0 {
		v.GoToPage(q.Page)
	}
}

// followList keeps a view of q open and renders it again whenever the bus
// reports a change of its kind, until ctx is done.
func followList(ctx context.Context, w io.Writer, fetch view.Fetcher, q *aql.Query) error {
	bc := config.Current.Bus
	if bc.Driver != "nats" {
		return fmt.Errorf("%w: --follow needs the nats bus driver, have %q", config.ErrInvalid, bc.Driver)
	}
	bc.Embedded = false

	bs, stop, err := bus.Open(bc)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer stop()

	kind, err := api.LookupKind(q.Kind)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var ready atomic.Bool
	show := func(s view.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\n%s  %s\n", time.Now().Format(time.TimeOnly), q.String())
		if err := render(w, kind, s.Items, s.Page); err != nil {
			slog.Warn("rendering list", "err", err)
		}
	}

	v, err := view.New(q.Kind, fetch,
		view.WithPageSize(config.Current.List.DefaultPageSize),
		view.WithDebounce(config.Current.Suggest.Debounce.Duration),
		view.OnChange(func(s view.Snapshot) {
			if ready.Load() {
				show(s)
			}
		}))
	if err != nil {
		return err
	}
	defer v.Close()

	applyQuery(v, q)
	if err := v.Refresh(ctx); err != nil {
		return err
	}
	if q.Page > 0 {
		v.GoToPage(q.Page)
	}
	show(v.Snapshot())
	ready.Store(true)

	v.Watch(ctx, bs)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args)
	if err != nil {
		return err
	}
	c, err := getClient()
	if err != nil {
		return err
	}

	data, name, err := c.Export(cmd.Context(), q)
	if err != nil {
		return err
	}
	if name == "" {
		kind, _ := api.LookupKind(q.Kind)
		name = export.Filename(kind.ExportName, time.Now())
	}

	saver := export.DirSaver{Dir: outDir}
	if err := saver.Save(cmd.Context(), data, export.MimeCSV, name); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), saver.Path(name))
	return nil
}
