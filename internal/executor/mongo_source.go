package executor

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

// column maps a document field to a report column.
type column struct {
	header string
	field  string
}

// collectionSpec describes how a section is read from the storefront.
type collectionSpec struct {
	collection string
	columns    []column
}

// MongoCollections names the storefront collections.
type MongoCollections struct {
	Orders    string `yaml:"orders"`
	Products  string `yaml:"products"`
	Customers string `yaml:"customers"`
}

// DefaultMongoCollections returns the storefront's collection names.
func DefaultMongoCollections() MongoCollections {
	return MongoCollections{Orders: "orders", Products: "products", Customers: "users"}
}

// MongoSource reads report sections from the storefront MongoDB database,
// newest documents first.
type MongoSource struct {
	db      *mongo.Database
	specs   map[string]collectionSpec
	maxRows int64
	now     func() time.Time
}

// NewMongoSource creates a data source over db. maxRows caps each section;
// zero means no cap.
func NewMongoSource(db *mongo.Database, colls MongoCollections, maxRows int64) *MongoSource {
	def := DefaultMongoCollections()
	if colls.Orders == "" {
		colls.Orders = def.Orders
	}
	if colls.Products == "" {
		colls.Products = def.Products
	}
	if colls.Customers == "" {
		colls.Customers = def.Customers
	}

	return &MongoSource{
		db: db,
		specs: map[string]collectionSpec{
			SectionSales: {
				collection: colls.Orders,
				columns: []column{
					{"Order ID", "_id"},
					{"Customer", "userId"},
					{"Total", "total"},
					{"Status", "status"},
					{"Date", "createdAt"},
				},
			},
			SectionProducts: {
				collection: colls.Products,
				columns: []column{
					{"Product ID", "_id"},
					{"Name", "name"},
					{"Category", "category"},
					{"Price", "price"},
					{"Stock", "quantity"},
				},
			},
			SectionCustomers: {
				collection: colls.Customers,
				columns: []column{
					{"Customer ID", "_id"},
					{"Name", "name"},
					{"Email", "email"},
					{"Joined", "createdAt"},
				},
			},
		},
		maxRows: maxRows,
		now:     time.Now,
	}
}

// Fetch reads every section of reportType.
func (s *MongoSource) Fetch(ctx context.Context, reportType models.ReportType) (*Report, error) {
	names, err := sectionsFor(reportType)
	if err != nil {
		return nil, err
	}

	rep := &Report{Type: reportType, GeneratedAt: s.now()}
	for _, name := range names {
		sec, err := s.section(ctx, name)
		if err != nil {
			return nil, err
		}
		rep.Sections = append(rep.Sections, sec)
	}
	return rep, nil
}

func (s *MongoSource) section(ctx context.Context, name string) (Section, error) {
	spec := s.specs[name]

	projection := bson.M{}
	headers := make([]string, len(spec.columns))
	for i, col := range spec.columns {
		projection[col.field] = 1
		headers[i] = col.header
	}

	opts := options.Find().
		SetProjection(projection).
		SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if s.maxRows > 0 {
		opts.SetLimit(s.maxRows)
	}

	cursor, err := s.db.Collection(spec.collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return Section{}, fmt.Errorf("query %s: %w", spec.collection, err)
	}
	defer cursor.Close(ctx)

	sec := Section{Name: name, Columns: headers}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return Section{}, fmt.Errorf("decode %s: %w", spec.collection, err)
		}
		sec.Rows = append(sec.Rows, rowOf(doc, spec.columns))
	}
	if err := cursor.Err(); err != nil {
		return Section{}, fmt.Errorf("read %s: %w", spec.collection, err)
	}
	return sec, nil
}

// rowOf extracts columns from doc, converting BSON types to plain values.
func rowOf(doc bson.M, columns []column) []any {
	row := make([]any, len(columns))
	for i, col := range columns {
		row[i] = plainValue(doc[col.field])
	}
	return row
}

func plainValue(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Decimal128:
		return x.String()
	case int32:
		return int64(x)
	}
	return v
}
