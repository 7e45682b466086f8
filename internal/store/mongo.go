package store

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/fx-trader/internal/market"
)

// Mongo implements Store on MongoDB.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to MongoDB and ensures indexes. The URI should
// include the database name (e.g. mongodb://localhost:27017/fxtrader);
// "fxtrader" is used when none is given.
func NewMongo(ctx context.Context, uri string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "fxtrader"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	s := &Mongo{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	log.Printf("connected to MongoDB (db=%s)", dbName)
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}
	indexes := []idx{
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "symbol", Value: 1},
					{Key: "event_time", Value: -1},
				},
			},
		},
		{
			collection: "positions",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "symbol", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "daily_stats",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "date", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "sim_state",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
	for _, i := range indexes {
		if _, err := s.db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}
	return nil
}

// tradeDoc mirrors the MongoDB trade document.
type tradeDoc struct {
	ID           string    `bson:"id"`
	Symbol       string    `bson:"symbol"`
	Side         string    `bson:"side"`
	Quantity     float64   `bson:"quantity"`
	Price        float64   `bson:"price"`
	Notional     float64   `bson:"notional"`
	StrategyTag  string    `bson:"strategy_tag"`
	Status       string    `bson:"status"`
	RejectReason string    `bson:"reject_reason,omitempty"`
	EventTime    time.Time `bson:"event_time"`
	Seq          int64     `bson:"seq"`
}

func toTradeDoc(t market.Trade) tradeDoc {
	return tradeDoc{
		ID:           t.ID,
		Symbol:       t.Symbol,
		Side:         string(t.Side),
		Quantity:     t.Quantity,
		Price:        t.Price,
		Notional:     t.Notional,
		StrategyTag:  t.StrategyTag,
		Status:       string(t.Status),
		RejectReason: t.RejectReason,
		EventTime:    t.EventTime,
		Seq:          int64(t.Seq),
	}
}

func (d tradeDoc) toTrade() market.Trade {
	return market.Trade{
		ID:           d.ID,
		Symbol:       d.Symbol,
		Side:         market.Side(d.Side),
		Quantity:     d.Quantity,
		Price:        d.Price,
		Notional:     d.Notional,
		StrategyTag:  d.StrategyTag,
		Status:       market.TradeStatus(d.Status),
		RejectReason: d.RejectReason,
		EventTime:    d.EventTime,
		Seq:          uint64(d.Seq),
	}
}

func positionUpdate(p market.Position) bson.M {
	return bson.M{"$set": bson.M{
		"symbol":         p.Symbol,
		"quantity":       p.Quantity,
		"avg_price":      p.AvgPrice,
		"realized_pnl":   p.RealizedPnL,
		"unrealized_pnl": p.UnrealizedPnL,
		"updated_at":     p.UpdatedAt,
	}}
}

func statsUpdate(s market.DailyStats) bson.M {
	return bson.M{"$set": bson.M{
		"date":             s.Date,
		"total_notional":   s.TotalNotional,
		"trade_count":      s.TradeCount,
		"realized_pnl":     s.RealizedPnL,
		"active_positions": s.ActivePositions,
	}}
}

// ExecuteTrade commits the three writes of one execution in a single
// MongoDB transaction.
func (s *Mongo) ExecuteTrade(ctx context.Context, trade market.Trade, pos market.Position, stats market.DailyStats) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		if _, err := s.db.Collection("trades").InsertOne(sc, toTradeDoc(trade)); err != nil {
			if !mongo.IsDuplicateKeyError(err) {
				return nil, fmt.Errorf("insert trade: %w", err)
			}
		}
		upsert := options.UpdateOne().SetUpsert(true)
		if _, err := s.db.Collection("positions").UpdateOne(sc,
			bson.M{"symbol": pos.Symbol}, positionUpdate(pos), upsert); err != nil {
			return nil, fmt.Errorf("upsert position: %w", err)
		}
		if _, err := s.db.Collection("daily_stats").UpdateOne(sc,
			bson.M{"date": stats.Date}, statsUpdate(stats), upsert); err != nil {
			return nil, fmt.Errorf("upsert daily stats: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("execute trade transaction: %w", err)
	}
	return nil
}

func (s *Mongo) AppendTrade(ctx context.Context, trade market.Trade) error {
	_, err := s.db.Collection("trades").InsertOne(ctx, toTradeDoc(trade))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return nil // idempotent by trade ID
	}
	return err
}

func (s *Mongo) UpsertPosition(ctx context.Context, pos market.Position) error {
	_, err := s.db.Collection("positions").UpdateOne(ctx,
		bson.M{"symbol": pos.Symbol}, positionUpdate(pos),
		options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Mongo) UpsertDailyStats(ctx context.Context, stats market.DailyStats) error {
	_, err := s.db.Collection("daily_stats").UpdateOne(ctx,
		bson.M{"date": stats.Date}, statsUpdate(stats),
		options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Mongo) LoadTodayNotional(ctx context.Context, date string) (float64, error) {
	stats, err := s.LoadDailyStats(ctx, date)
	if err != nil {
		return 0, err
	}
	return stats.TotalNotional, nil
}

func (s *Mongo) LoadDailyStats(ctx context.Context, date string) (market.DailyStats, error) {
	var doc struct {
		Date            string  `bson:"date"`
		TotalNotional   float64 `bson:"total_notional"`
		TradeCount      int64   `bson:"trade_count"`
		RealizedPnL     float64 `bson:"realized_pnl"`
		ActivePositions int     `bson:"active_positions"`
	}
	err := s.db.Collection("daily_stats").FindOne(ctx, bson.M{"date": date}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return market.DailyStats{Date: date}, nil
		}
		return market.DailyStats{}, fmt.Errorf("load daily stats: %w", err)
	}
	return market.DailyStats{
		Date:            doc.Date,
		TotalNotional:   doc.TotalNotional,
		TradeCount:      doc.TradeCount,
		RealizedPnL:     doc.RealizedPnL,
		ActivePositions: doc.ActivePositions,
	}, nil
}

func (s *Mongo) LoadPositions(ctx context.Context) ([]market.Position, error) {
	cursor, err := s.db.Collection("positions").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []market.Position
	for cursor.Next(ctx) {
		var doc struct {
			Symbol        string    `bson:"symbol"`
			Quantity      float64   `bson:"quantity"`
			AvgPrice      float64   `bson:"avg_price"`
			RealizedPnL   float64   `bson:"realized_pnl"`
			UnrealizedPnL float64   `bson:"unrealized_pnl"`
			UpdatedAt     time.Time `bson:"updated_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, market.Position{
			Symbol:        doc.Symbol,
			Quantity:      doc.Quantity,
			AvgPrice:      doc.AvgPrice,
			RealizedPnL:   doc.RealizedPnL,
			UnrealizedPnL: doc.UnrealizedPnL,
			UpdatedAt:     doc.UpdatedAt,
		})
	}
	return out, cursor.Err()
}

func (s *Mongo) ListTrades(ctx context.Context, f TradeFilter) ([]market.Trade, error) {
	f = f.normalized()
	filter := bson.M{}
	if f.Symbol != "" {
		filter["symbol"] = f.Symbol
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "event_time", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cursor, err := s.db.Collection("trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []tradeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	trades := make([]market.Trade, len(docs))
	for i, d := range docs {
		trades[i] = d.toTrade()
	}
	return trades, nil
}

func (s *Mongo) TradesBefore(ctx context.Context, cutoff time.Time) ([]market.Trade, error) {
	opts := options.Find().SetSort(bson.D{{Key: "event_time", Value: 1}})
	cursor, err := s.db.Collection("trades").Find(ctx,
		bson.M{"event_time": bson.M{"$lt": cutoff}}, opts)
	if err != nil {
		return nil, fmt.Errorf("query trades before: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []tradeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	trades := make([]market.Trade, len(docs))
	for i, d := range docs {
		trades[i] = d.toTrade()
	}
	return trades, nil
}

func (s *Mongo) DeleteTrades(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Collection("trades").DeleteMany(ctx, bson.M{"id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	return nil
}

func (s *Mongo) SaveState(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Collection("sim_state").UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{
			"key":         key,
			"value_bytes": value,
			"updated_at":  time.Now(),
		}},
		options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Mongo) LoadState(ctx context.Context, key string) ([]byte, error) {
	var doc struct {
		ValueBytes []byte `bson:"value_bytes"`
	}
	err := s.db.Collection("sim_state").FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return doc.ValueBytes, nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
