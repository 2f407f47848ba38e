package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"kanban-api/domain"
)

// Tables holds the table names backing one deployment.
type Tables struct {
	Boards string
	Lists  string
	Cards  string
	Users  string
}

// Storage provides access to the underlying persistence mechanisms. Cards and
// lists are partitioned by board id, which keeps every order rewrite for a
// single board inside one table transaction.
type Storage struct {
	boardTable *aztables.Client
	listTable  *aztables.Client
	cardTable  *aztables.Client
	userTable  *aztables.Client
	eventQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string. eventQueue
// names the dead-letter queue for realtime envelopes that could not be
// published; it may be empty to disable the relay.
func New(connStr string, tables Tables, eventQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		boardTable: svc.NewClient(tables.Boards),
		listTable:  svc.NewClient(tables.Lists),
		cardTable:  svc.NewClient(tables.Cards),
		userTable:  svc.NewClient(tables.Users),
	}
	if eventQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute * 5,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 60,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.eventQueue = q
	}
	return s, nil
}

type boardEntity struct {
	aztables.Entity
	Title   string `json:"Title"`
	Owner   string `json:"Owner"`
	Members string `json:"Members"` // JSON array of user ids
	Created string `json:"Created"`
	Updated string `json:"Updated"`
}

type listEntity struct {
	aztables.Entity
	Title   string `json:"Title"`
	Order   int    `json:"Order"`
	Created string `json:"Created"`
	Updated string `json:"Updated"`
}

type cardEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	ListID      string `json:"ListID"`
	Order       int    `json:"Order"`
	AssignedTo  string `json:"AssignedTo"`
	DueDate     string `json:"DueDate"` // RFC3339, empty when unset
	Created     string `json:"Created"`
	Updated     string `json:"Updated"`
}

type userEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Email string `json:"Email"`
}

func notFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeBoardEntity(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	members := []string{}
	if ent.Members != "" {
		if err := json.Unmarshal([]byte(ent.Members), &members); err != nil {
			return domain.Board{}, fmt.Errorf("board %s members: %w", ent.RowKey, err)
		}
	}
	return domain.Board{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Owner:     ent.Owner,
		Members:   members,
		CreatedAt: parseTime(ent.Created),
		UpdatedAt: parseTime(ent.Updated),
	}, nil
}

func decodeListEntity(data []byte) (domain.List, error) {
	var ent listEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.List{}, err
	}
	return domain.List{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Board:     ent.PartitionKey,
		Order:     ent.Order,
		CreatedAt: parseTime(ent.Created),
		UpdatedAt: parseTime(ent.Updated),
	}, nil
}

func decodeCardEntity(data []byte) (domain.Card, error) {
	var ent cardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Card{}, err
	}
	c := domain.Card{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		List:        ent.ListID,
		Board:       ent.PartitionKey,
		Order:       ent.Order,
		AssignedTo:  ent.AssignedTo,
		CreatedAt:   parseTime(ent.Created),
		UpdatedAt:   parseTime(ent.Updated),
	}
	if due := parseTime(ent.DueDate); !due.IsZero() {
		c.DueDate = &due
	}
	return c, nil
}

func encodeCardEntity(c domain.Card) ([]byte, error) {
	ent := cardEntity{
		Entity:      aztables.Entity{PartitionKey: c.Board, RowKey: c.ID},
		Title:       c.Title,
		Description: c.Description,
		ListID:      c.List,
		Order:       c.Order,
		AssignedTo:  c.AssignedTo,
		Created:     formatTime(c.CreatedAt),
		Updated:     formatTime(c.UpdatedAt),
	}
	if c.DueDate != nil {
		ent.DueDate = formatTime(*c.DueDate)
	}
	return json.Marshal(ent)
}

// GetBoard looks up a board. A nil board means the id did not resolve.
func (s *Storage) GetBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	resp, err := s.boardTable.GetEntity(ctx, boardID, boardID, nil)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	b, err := decodeBoardEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertBoard writes a board record. Board CRUD belongs to a collaborating
// service; this side only needs the write for seeding and tests.
func (s *Storage) UpsertBoard(ctx context.Context, b domain.Board) error {
	members, err := json.Marshal(b.Members)
	if err != nil {
		return err
	}
	data, err := json.Marshal(boardEntity{
		Entity:  aztables.Entity{PartitionKey: b.ID, RowKey: b.ID},
		Title:   b.Title,
		Owner:   b.Owner,
		Members: string(members),
		Created: formatTime(b.CreatedAt),
		Updated: formatTime(b.UpdatedAt),
	})
	if err != nil {
		return err
	}
	_, err = s.boardTable.UpsertEntity(ctx, data, nil)
	return err
}

// GetList resolves a list by id alone. Lists are partitioned by board, so
// this scans on RowKey; list ids are unique across boards.
func (s *Storage) GetList(ctx context.Context, listID string) (*domain.List, error) {
	filter := "RowKey eq '" + sanitize(listID) + "'"
	pager := s.listTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			l, err := decodeListEntity(e)
			if err != nil {
				return nil, err
			}
			return &l, nil
		}
	}
	return nil, nil
}

// ListsByBoard retrieves the lists of a board sorted by order.
func (s *Storage) ListsByBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	filter := "PartitionKey eq '" + sanitize(boardID) + "'"
	pager := s.listTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	lists := []domain.List{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			l, err := decodeListEntity(e)
			if err != nil {
				return nil, err
			}
			lists = append(lists, l)
		}
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Order < lists[j].Order })
	return lists, nil
}

func encodeListEntity(l domain.List) ([]byte, error) {
	return json.Marshal(listEntity{
		Entity:  aztables.Entity{PartitionKey: l.Board, RowKey: l.ID},
		Title:   l.Title,
		Order:   l.Order,
		Created: formatTime(l.CreatedAt),
		Updated: formatTime(l.UpdatedAt),
	})
}

// InsertList stores a new list, failing when the id already exists.
func (s *Storage) InsertList(ctx context.Context, l domain.List) error {
	data, err := encodeListEntity(l)
	if err != nil {
		return err
	}
	_, err = s.listTable.AddEntity(ctx, data, nil)
	return err
}

// UpdateList replaces a stored list.
func (s *Storage) UpdateList(ctx context.Context, l domain.List) error {
	data, err := encodeListEntity(l)
	if err != nil {
		return err
	}
	_, err = s.listTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// DeleteList removes a list record. Cards of the list are not cascaded here.
func (s *Storage) DeleteList(ctx context.Context, l domain.List) error {
	_, err := s.listTable.DeleteEntity(ctx, l.Board, l.ID, nil)
	return err
}

// GetCard resolves a card by id alone, scanning on RowKey across board
// partitions. A nil card means the id did not resolve.
func (s *Storage) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	filter := "RowKey eq '" + sanitize(cardID) + "'"
	pager := s.cardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			c, err := decodeCardEntity(e)
			if err != nil {
				return nil, err
			}
			return &c, nil
		}
	}
	return nil, nil
}

// CardsByList retrieves the cards of one list sorted by order.
func (s *Storage) CardsByList(ctx context.Context, boardID, listID string) ([]domain.Card, error) {
	filter := "PartitionKey eq '" + sanitize(boardID) + "' and ListID eq '" + sanitize(listID) + "'"
	pager := s.cardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	cards := []domain.Card{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			c, err := decodeCardEntity(e)
			if err != nil {
				return nil, err
			}
			cards = append(cards, c)
		}
	}
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })
	return cards, nil
}

// InsertCard stores a new card, failing when the id already exists.
func (s *Storage) InsertCard(ctx context.Context, c domain.Card) error {
	data, err := encodeCardEntity(c)
	if err != nil {
		return err
	}
	_, err = s.cardTable.AddEntity(ctx, data, nil)
	return err
}

// UpdateCard replaces a stored card, list and order included.
func (s *Storage) UpdateCard(ctx context.Context, c domain.Card) error {
	data, err := encodeCardEntity(c)
	if err != nil {
		return err
	}
	_, err = s.cardTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// DeleteCard removes a card record.
func (s *Storage) DeleteCard(ctx context.Context, c domain.Card) error {
	_, err := s.cardTable.DeleteEntity(ctx, c.Board, c.ID, nil)
	return err
}

type orderPatch struct {
	aztables.Entity
	Order   int    `json:"Order"`
	Updated string `json:"Updated"`
}

// ApplyOrders rewrites card orders as one atomic table transaction. All
// assignments must belong to boardID's partition, which holds for any move
// because cross-board moves are rejected upstream. listIDs names the lists
// whose snapshots the rewrite invalidates; the base store ignores it, cache
// wrappers use it for eviction.
func (s *Storage) ApplyOrders(ctx context.Context, boardID string, listIDs []string, assignments []domain.OrderAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	now := formatTime(time.Now())
	actions := make([]aztables.TransactionAction, 0, len(assignments))
	for _, a := range assignments {
		data, err := json.Marshal(orderPatch{
			Entity:  aztables.Entity{PartitionKey: boardID, RowKey: a.CardID},
			Order:   a.Order,
			Updated: now,
		})
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     data,
		})
	}
	_, err := s.cardTable.SubmitTransaction(ctx, actions, nil)
	return err
}

// GetUser looks up a user record. A nil user means the id did not resolve.
func (s *Storage) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &domain.User{ID: ent.RowKey, Name: ent.Name, Email: ent.Email}, nil
}

// UpsertUser writes a user record on behalf of the auth collaborator.
func (s *Storage) UpsertUser(ctx context.Context, u domain.User) error {
	data, err := json.Marshal(userEntity{
		Entity: aztables.Entity{PartitionKey: u.ID, RowKey: u.ID},
		Name:   u.Name,
		Email:  u.Email,
	})
	if err != nil {
		return err
	}
	_, err = s.userTable.UpsertEntity(ctx, data, nil)
	return err
}

// EnqueueEvent parks a realtime envelope on the dead-letter queue so a relay
// can re-deliver it. A no-op when no queue is configured.
func (s *Storage) EnqueueEvent(ctx context.Context, data []byte) error {
	if s.eventQueue == nil {
		return nil
	}
	_, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// sanitize escapes single quotes for OData filter literals.
func sanitize(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, v[i])
	}
	return string(out)
}
