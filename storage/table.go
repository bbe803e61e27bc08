package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"prism-board/domain"
)

const (
	boardPartition = "board"
	// entity group transactions are limited to 100 operations
	maxBatchSize = 100
)

// TableStore keeps boards in Azure Table Storage. Lists and tasks are
// partitioned by board ID; the board row carries the version used for
// optimistic concurrency.
type TableStore struct {
	boards tableClient
	lists  tableClient
	tasks  tableClient
}

// tableClient is the subset of *aztables.Client the store uses.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// TableNames names the tables backing a TableStore.
type TableNames struct {
	Boards string
	Lists  string
	Tasks  string
}

// azureRetry is shared by the table and queue clients. 412 is not retried;
// it means the board changed and the write is replayed against fresh state.
func azureRetry() azcore.ClientOptions {
	return azcore.ClientOptions{
		Retry: policy.RetryOptions{
			MaxRetries:    3,
			TryTimeout:    time.Minute,
			RetryDelay:    500 * time.Millisecond,
			MaxRetryDelay: 15 * time.Second,
			StatusCodes: []int{
				http.StatusRequestTimeout,
				http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout,
			},
		},
	}
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{ClientOptions: azureRetry()}
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr string, names TableNames) (*TableStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &TableStore{
		boards: svc.NewClient(names.Boards),
		lists:  svc.NewClient(names.Lists),
		tasks:  svc.NewClient(names.Tasks),
	}, nil
}

type boardEntity struct {
	aztables.Entity
	Name    string `json:"Name"`
	Version int64  `json:"Version"`
}

type listEntity struct {
	aztables.Entity
	Name     string `json:"Name"`
	Color    string `json:"Color"`
	Position int    `json:"Position"`
}

type taskEntity struct {
	aztables.Entity
	Title    string `json:"Title"`
	Notes    string `json:"Notes"`
	ListID   string `json:"ListId"`
	Position int    `json:"Position"`
	Done     bool   `json:"Done"`
}

func decodeBoardEntity(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	return domain.Board{ID: ent.RowKey, Name: ent.Name, Version: ent.Version}, nil
}

func decodeListEntity(data []byte) (domain.List, error) {
	var ent listEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.List{}, err
	}
	return domain.List{ID: ent.RowKey, BoardID: ent.PartitionKey, Name: ent.Name, Color: ent.Color, Position: ent.Position}, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: ent.RowKey, Title: ent.Title, Notes: ent.Notes, ListID: ent.ListID, Position: ent.Position, Done: ent.Done}, nil
}

func encodeList(l domain.List) ([]byte, error) {
	return json.Marshal(listEntity{
		Entity:   aztables.Entity{PartitionKey: l.BoardID, RowKey: l.ID},
		Name:     l.Name,
		Color:    l.Color,
		Position: l.Position,
	})
}

func encodeTask(boardID string, t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		Entity:   aztables.Entity{PartitionKey: boardID, RowKey: t.ID},
		Title:    t.Title,
		Notes:    t.Notes,
		ListID:   t.ListID,
		Position: t.Position,
		Done:     t.Done,
	})
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func (s *TableStore) Ping(ctx context.Context) error {
	_, err := s.boards.GetEntity(ctx, boardPartition, "__ping__", nil)
	if err == nil || isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// CreateBoard inserts an empty board row.
func (s *TableStore) CreateBoard(ctx context.Context, id, name string) (domain.Board, error) {
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(boardEntity{
		Entity: aztables.Entity{PartitionKey: boardPartition, RowKey: id},
		Name:   name,
	})
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.boards.AddEntity(ctx, payload, nil); err != nil {
		return domain.Board{}, fmt.Errorf("add board: %w", err)
	}
	return domain.Board{ID: id, Name: name}, nil
}

func (s *TableStore) FetchBoard(ctx context.Context, boardID string) (domain.Snapshot, error) {
	st, _, err := s.load(ctx, boardID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return st.snapshot(), nil
}

func (s *TableStore) UpdateTaskPositions(ctx context.Context, boardID string, changes []domain.TaskPositionChange) (int64, error) {
	return s.mutate(ctx, boardID, func(st *boardState) error {
		for _, c := range changes {
			if err := st.moveTask(c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *TableStore) MoveList(ctx context.Context, boardID, listID string, newPosition int) (int64, error) {
	return s.mutate(ctx, boardID, func(st *boardState) error {
		return st.moveList(listID, newPosition)
	})
}

func (s *TableStore) CreateList(ctx context.Context, boardID string, nl domain.NewList) (domain.List, int64, error) {
	var created domain.List
	version, err := s.mutate(ctx, boardID, func(st *boardState) error {
		created = st.addList(domain.List{ID: uuid.NewString(), Name: nl.Name, Color: nl.Color})
		return nil
	})
	return created, version, err
}

func (s *TableStore) CreateTask(ctx context.Context, boardID string, nt domain.NewTask) (domain.Task, int64, error) {
	var created domain.Task
	version, err := s.mutate(ctx, boardID, func(st *boardState) error {
		var err error
		created, err = st.addTask(domain.Task{ID: uuid.NewString(), Title: nt.Title, Notes: nt.Notes, ListID: nt.ListID})
		return err
	})
	return created, version, err
}

func (s *TableStore) DeleteTask(ctx context.Context, boardID, taskID string) (int64, error) {
	return s.mutate(ctx, boardID, func(st *boardState) error {
		return st.deleteTask(taskID)
	})
}

// mutate claims the next board version with an If-Match on the board row and
// then writes the touched lists and tasks in entity group transactions.
func (s *TableStore) mutate(ctx context.Context, boardID string, fn func(*boardState) error) (int64, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		st, etag, err := s.load(ctx, boardID)
		if err != nil {
			return 0, err
		}
		if err := fn(st); err != nil {
			return 0, err
		}

		next := st.board.Version + 1
		payload, err := json.Marshal(boardEntity{
			Entity:  aztables.Entity{PartitionKey: boardPartition, RowKey: boardID},
			Name:    st.board.Name,
			Version: next,
		})
		if err != nil {
			return 0, err
		}
		_, err = s.boards.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if isStatus(err, http.StatusPreconditionFailed) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("claim board version: %w", err)
		}

		if err := s.persist(ctx, boardID, st); err != nil {
			return 0, err
		}
		return next, nil
	}
	return 0, fmt.Errorf("board %s: %w", boardID, domain.ErrConcurrencyConflict)
}

func (s *TableStore) persist(ctx context.Context, boardID string, st *boardState) error {
	anyTag := azcore.ETagAny

	var listActions []aztables.TransactionAction
	for _, l := range st.addedLists {
		data, err := encodeList(l)
		if err != nil {
			return err
		}
		listActions = append(listActions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: data})
	}
	for _, l := range st.changedLists() {
		data, err := encodeList(l)
		if err != nil {
			return err
		}
		listActions = append(listActions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: data, IfMatch: &anyTag})
	}

	var taskActions []aztables.TransactionAction
	for _, id := range st.deletedTasks {
		data, err := json.Marshal(aztables.Entity{PartitionKey: boardID, RowKey: id})
		if err != nil {
			return err
		}
		taskActions = append(taskActions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: data, IfMatch: &anyTag})
	}
	for _, t := range st.addedTasks {
		data, err := encodeTask(boardID, t)
		if err != nil {
			return err
		}
		taskActions = append(taskActions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: data})
	}
	for _, t := range st.changedTasks() {
		data, err := encodeTask(boardID, t)
		if err != nil {
			return err
		}
		taskActions = append(taskActions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: data, IfMatch: &anyTag})
	}

	if err := submitBatches(ctx, s.lists, listActions); err != nil {
		return fmt.Errorf("write lists: %w", err)
	}
	if err := submitBatches(ctx, s.tasks, taskActions); err != nil {
		return fmt.Errorf("write tasks: %w", err)
	}
	return nil
}

func submitBatches(ctx context.Context, client tableClient, actions []aztables.TransactionAction) error {
	for start := 0; start < len(actions); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(actions) {
			end = len(actions)
		}
		if _, err := client.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *TableStore) load(ctx context.Context, boardID string) (*boardState, azcore.ETag, error) {
	resp, err := s.boards.GetEntity(ctx, boardPartition, boardID, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil, "", fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("get board: %w", err)
	}
	board, err := decodeBoardEntity(resp.Value)
	if err != nil {
		return nil, "", err
	}

	filter := "PartitionKey eq '" + boardID + "'"
	var lists []domain.List
	if err := listPartition(ctx, s.lists, filter, func(data []byte) error {
		l, err := decodeListEntity(data)
		lists = append(lists, l)
		return err
	}); err != nil {
		return nil, "", fmt.Errorf("list lists: %w", err)
	}
	var tasks []domain.Task
	if err := listPartition(ctx, s.tasks, filter, func(data []byte) error {
		t, err := decodeTaskEntity(data)
		tasks = append(tasks, t)
		return err
	}); err != nil {
		return nil, "", fmt.Errorf("list tasks: %w", err)
	}
	return newBoardState(board, lists, tasks), resp.ETag, nil
}

func listPartition(ctx context.Context, client tableClient, filter string, fn func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateTables creates the tables, ignoring ones that already exist.
func CreateTables(ctx context.Context, connStr string, names ...string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
				continue
			}
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}
