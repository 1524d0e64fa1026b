package mongostore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/store"
	"pharmaflow/backend/internal/xid"
)

// Store implements store.Repository on MongoDB. Stock changes are single
// FindOneAndUpdate calls guarded by a quantity filter, so the document is the
// unit of atomicity.
type Store struct {
	client     *mongo.Client
	medicines  *mongo.Collection
	sales      *mongo.Collection
	bills      *mongo.Collection
	users      *mongo.Collection
	attendance *mongo.Collection
}

func New(ctx context.Context, uri string, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	s := &Store{
		client:     client,
		medicines:  db.Collection("medicines"),
		sales:      db.Collection("sales"),
		bills:      db.Collection("bills"),
		users:      db.Collection("users"),
		attendance: db.Collection("attendance"),
	}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Migrate creates the indexes the queries rely on. Existing indexes with the
// same definition are left as they are.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.medicines, []mongo.IndexModel{
			{Keys: bson.D{{Key: "name", Value: 1}}},
			{Keys: bson.D{{Key: "company_lc", Value: 1}}},
			{Keys: bson.D{{Key: "quantity", Value: 1}}},
		}},
		{s.sales, []mongo.IndexModel{
			{Keys: bson.D{{Key: "bill_id", Value: 1}}},
			{Keys: bson.D{{Key: "sold_at", Value: 1}}},
		}},
		{s.bills, []mongo.IndexModel{
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		}},
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.attendance, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "day", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "day", Value: -1}}},
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateMany(ctx, idx.models); err != nil {
			return store.Wrap("create indexes", err)
		}
	}
	return nil
}

func (s *Store) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	var doc medicineDoc
	if err := s.medicines.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get medicine", err)
	}
	medicine, err := doc.toDomain()
	if err != nil {
		return nil, store.Wrap("get medicine", err)
	}
	return &medicine, nil
}

func (s *Store) GetQuantity(ctx context.Context, id string) (int, error) {
	var doc struct {
		Quantity int `bson:"quantity"`
	}
	opts := options.FindOne().SetProjection(bson.M{"quantity": 1})
	if err := s.medicines.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, store.ErrNotFound
		}
		return 0, store.Wrap("get quantity", err)
	}
	return doc.Quantity, nil
}

func (s *Store) TryDecrement(ctx context.Context, id string, qty int) (int, error) {
	if qty <= 0 {
		return 0, store.ErrInvalidAmount
	}

	var doc medicineDoc
	err := s.medicines.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "quantity": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"quantity": -qty},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.Quantity, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, store.Wrap("decrement stock", err)
	}

	available, err := s.GetQuantity(ctx, id)
	if err != nil {
		return 0, err
	}
	return available, &store.StockError{MedicineID: id, Requested: qty, Available: available}
}

func (s *Store) Increment(ctx context.Context, id string, amount int) (int, error) {
	if amount <= 0 {
		return 0, store.ErrInvalidAmount
	}

	var doc medicineDoc
	err := s.medicines.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"quantity": amount},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, store.ErrNotFound
		}
		return 0, store.Wrap("increment stock", err)
	}
	return doc.Quantity, nil
}

func (s *Store) CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if medicine.Quantity < 0 {
		return nil, store.ErrInvalidAmount
	}
	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}
	now := time.Now().UTC()
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = now
	}
	medicine.UpdatedAt = now

	doc, err := newMedicineDoc(medicine)
	if err != nil {
		return nil, store.Wrap("create medicine", err)
	}
	if _, err := s.medicines.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, store.Wrap("create medicine", err)
	}
	created := medicine
	return &created, nil
}

func (s *Store) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	return s.findMedicines(ctx, "list medicines", bson.M{}, options.Find().SetSort(byName))
}

func (s *Store) SearchMedicines(ctx context.Context, name string, limit int) ([]domain.Medicine, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := regexp.QuoteMeta(strings.TrimSpace(name))
	return s.findMedicines(ctx, "search medicines",
		bson.M{"name": bson.M{"$regex": pattern, "$options": "i"}},
		options.Find().SetSort(byName).SetLimit(int64(limit)),
	)
}

func (s *Store) ListMedicinesByCompany(ctx context.Context, company string) ([]domain.Medicine, error) {
	return s.findMedicines(ctx, "list medicines by company",
		bson.M{"company_lc": normalizeCompany(company)},
		options.Find().SetSort(byName),
	)
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]domain.Medicine, error) {
	return s.findMedicines(ctx, "list low stock",
		bson.M{"quantity": bson.M{"$lt": threshold}},
		options.Find().SetSort(bson.D{{Key: "quantity", Value: 1}, {Key: "name", Value: 1}}),
	)
}

var byName = bson.D{{Key: "name", Value: 1}}

func (s *Store) findMedicines(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]domain.Medicine, error) {
	cursor, err := s.medicines.Find(ctx, filter, opts)
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	var docs []medicineDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Wrap(op, err)
	}
	medicines := make([]domain.Medicine, 0, len(docs))
	for _, doc := range docs {
		medicine, err := doc.toDomain()
		if err != nil {
			return nil, store.Wrap(op, err)
		}
		medicines = append(medicines, medicine)
	}
	return medicines, nil
}

func (s *Store) SaveSaleRecord(ctx context.Context, record domain.SaleRecord) error {
	if record.ID == "" {
		record.ID = xid.New("sale")
	}
	doc, err := newSaleDoc(record)
	if err != nil {
		return store.Wrap("save sale record", err)
	}
	_, err = s.sales.InsertOne(ctx, doc)
	return store.Wrap("save sale record", err)
}

// SaveBill stores the bill with its items embedded, so a single insert
// covers the whole bill.
func (s *Store) SaveBill(ctx context.Context, bill domain.Bill) error {
	doc, err := newBillDoc(bill)
	if err != nil {
		return store.Wrap("save bill", err)
	}
	if _, err := s.bills.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return store.Wrap("save bill", err)
	}
	return nil
}

func (s *Store) VoidSaleRecords(ctx context.Context, billID string) error {
	_, err := s.sales.DeleteMany(ctx, bson.M{"bill_id": billID})
	return store.Wrap("void sale records", err)
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	var doc billDoc
	if err := s.bills.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get bill", err)
	}
	bill, err := doc.toDomain()
	if err != nil {
		return nil, store.Wrap("get bill", err)
	}
	return &bill, nil
}

func (s *Store) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.bills.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, store.Wrap("list bills", err)
	}
	var docs []billDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Wrap("list bills", err)
	}
	bills := make([]domain.Bill, 0, len(docs))
	for _, doc := range docs {
		bill, err := doc.toDomain()
		if err != nil {
			return nil, store.Wrap("list bills", err)
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

func (s *Store) ListSalesSince(ctx context.Context, since time.Time) ([]domain.SaleRecord, error) {
	cursor, err := s.sales.Find(ctx,
		bson.M{"sold_at": bson.M{"$gte": since.UTC()}},
		options.Find().SetSort(bson.D{{Key: "sold_at", Value: 1}}),
	)
	if err != nil {
		return nil, store.Wrap("list sales", err)
	}
	var docs []saleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Wrap("list sales", err)
	}
	records := make([]domain.SaleRecord, 0, len(docs))
	for _, doc := range docs {
		record, err := doc.toDomain()
		if err != nil {
			return nil, store.Wrap("list sales", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.users.InsertOne(ctx, userDoc{
		ID:        user.ID,
		Username:  user.Username,
		Password:  user.Password,
		Role:      user.Role,
		Name:      user.Name,
		Email:     user.Email,
		Phone:     user.Phone,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return store.Wrap("create user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, store.Wrap("list users", err)
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Wrap("list users", err)
	}
	users := make([]domain.UserAccount, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toDomain())
	}
	return users, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get user", err)
	}
	user := doc.toDomain()
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"username": username}, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return store.Wrap("update password", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserProfile(ctx context.Context, id string, update domain.ProfileUpdateRequest) (*domain.UserAccount, error) {
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"name": update.Name, "email": update.Email, "phone": update.Phone}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("update profile", err)
	}
	user := doc.toDomain()
	return &user, nil
}

func (s *Store) UpsertCheckIn(ctx context.Context, record domain.Attendance) (*domain.Attendance, error) {
	if record.ID == "" {
		record.ID = xid.New("att")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	filter := bson.M{"user_id": record.UserID, "day": record.Date}
	update := bson.M{
		"$set": bson.M{"status": record.Status, "check_in": record.CheckIn, "username": record.Username},
		"$setOnInsert": bson.M{"_id": record.ID, "created_at": record.CreatedAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc attendanceDoc
	err := s.attendance.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Two concurrent upserts raced on the unique index; the second one
		// now finds the document and updates it.
		err = s.attendance.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return nil, store.Wrap("check in", err)
	}
	out := doc.toDomain()
	return &out, nil
}

func (s *Store) SetCheckOut(ctx context.Context, userID string, day string, at time.Time) (*domain.Attendance, error) {
	var doc attendanceDoc
	err := s.attendance.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "day": day},
		bson.M{"$set": bson.M{"check_out": at.UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("check out", err)
	}
	out := doc.toDomain()
	return &out, nil
}

func (s *Store) ListAttendanceByUser(ctx context.Context, userID string, limit int) ([]domain.Attendance, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.findAttendance(ctx, "list attendance",
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "day", Value: -1}}).SetLimit(int64(limit)),
	)
}

func (s *Store) ListAttendanceSince(ctx context.Context, day string) ([]domain.Attendance, error) {
	return s.findAttendance(ctx, "attendance report",
		bson.M{"day": bson.M{"$gte": day}},
		options.Find().SetSort(bson.D{{Key: "day", Value: -1}, {Key: "username", Value: 1}}),
	)
}

func (s *Store) findAttendance(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]domain.Attendance, error) {
	cursor, err := s.attendance.Find(ctx, filter, opts)
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	var docs []attendanceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Wrap(op, err)
	}
	records := make([]domain.Attendance, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.toDomain())
	}
	return records, nil
}

func normalizeCompany(company string) string {
	return strings.ToLower(strings.TrimSpace(company))
}
