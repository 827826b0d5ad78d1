package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/electionvote/config"
	"github.com/lvdashuaibi/electionvote/internal/model"
)

// MySQL错误码
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockDeadlock   = 1213
	mysqlErrLockWait       = 1205
)

type MySQLLedger struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLLedger() (*MySQLLedger, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLLedger{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

// classifyMySQLError 把存储层错误映射到错误分类
// 死锁和锁等待超时是可重试的临时性故障
func classifyMySQLError(err error, context string) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrLockDeadlock, mysqlErrLockWait:
			return fmt.Errorf("%s: %w", context, model.ErrTransient)
		}
	}
	return fmt.Errorf("%s: %w", context, err)
}

// CreateElection 创建选举、选区范围和候选人
func (r *MySQLLedger) CreateElection(election *model.Election) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return classifyMySQLError(err, "开始事务失败")
	}

	_, err = tx.Exec(
		"INSERT INTO elections (id, title, description, phase, start_time, end_time) VALUES (?, ?, ?, ?, ?, ?)",
		election.ID, election.Title, election.Description, string(election.Phase),
		election.StartTime, election.EndTime,
	)
	if err != nil {
		tx.Rollback()
		return classifyMySQLError(err, "插入选举失败")
	}

	for _, constituency := range election.Constituencies {
		if _, err := tx.Exec(
			"INSERT INTO election_constituencies (election_id, constituency) VALUES (?, ?)",
			election.ID, constituency,
		); err != nil {
			tx.Rollback()
			return classifyMySQLError(err, "插入选区范围失败")
		}
	}

	// position列固定候选人的选票顺序（插入顺序即展示顺序）
	for i, candidate := range election.Candidates {
		if _, err := tx.Exec(
			"INSERT INTO candidates (id, election_id, name, symbol, symbol_image, votes, position) VALUES (?, ?, ?, ?, ?, 0, ?)",
			candidate.ID, election.ID, candidate.Name, candidate.Symbol, candidate.SymbolImage, i,
		); err != nil {
			tx.Rollback()
			return classifyMySQLError(err, "插入候选人失败")
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyMySQLError(err, "提交事务失败")
	}

	return nil
}

// GetElection 获取选举详情（含候选人当前票数）
func (r *MySQLLedger) GetElection(id string) (*model.Election, error) {
	row := r.slaveDB.QueryRow(
		"SELECT id, title, description, phase, start_time, end_time FROM elections WHERE id = ?", id)

	var election model.Election
	var phase string
	err := row.Scan(&election.ID, &election.Title, &election.Description, &phase,
		&election.StartTime, &election.EndTime)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrElectionNotFound
		}
		return nil, classifyMySQLError(err, "查询选举失败")
	}
	election.Phase = model.Phase(phase)

	if election.Constituencies, err = r.loadConstituencies(id); err != nil {
		return nil, err
	}
	if election.Candidates, err = r.loadCandidates(id); err != nil {
		return nil, err
	}

	return &election, nil
}

func (r *MySQLLedger) loadConstituencies(electionID string) ([]string, error) {
	rows, err := r.slaveDB.Query(
		"SELECT constituency FROM election_constituencies WHERE election_id = ? ORDER BY constituency", electionID)
	if err != nil {
		return nil, classifyMySQLError(err, "查询选区范围失败")
	}
	defer rows.Close()

	var constituencies []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, classifyMySQLError(err, "扫描选区失败")
		}
		constituencies = append(constituencies, c)
	}
	return constituencies, rows.Err()
}

func (r *MySQLLedger) loadCandidates(electionID string) ([]model.Candidate, error) {
	rows, err := r.slaveDB.Query(
		"SELECT id, name, symbol, symbol_image, votes FROM candidates WHERE election_id = ? ORDER BY position", electionID)
	if err != nil {
		return nil, classifyMySQLError(err, "查询候选人失败")
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var c model.Candidate
		var symbol, symbolImage sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &symbol, &symbolImage, &c.Votes); err != nil {
			return nil, classifyMySQLError(err, "扫描候选人失败")
		}
		c.Symbol = symbol.String
		c.SymbolImage = symbolImage.String
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ListElections 获取全部选举
func (r *MySQLLedger) ListElections() ([]*model.Election, error) {
	rows, err := r.slaveDB.Query("SELECT id FROM elections ORDER BY start_time, id")
	if err != nil {
		return nil, classifyMySQLError(err, "查询选举列表失败")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyMySQLError(err, "扫描选举ID失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMySQLError(err, "迭代选举列表失败")
	}

	elections := make([]*model.Election, 0, len(ids))
	for _, id := range ids {
		election, err := r.GetElection(id)
		if err != nil {
			return nil, err
		}
		elections = append(elections, election)
	}
	return elections, nil
}

// UpdatePhase 以CAS方式变更选举阶段，阶段校验由选举存储层负责
func (r *MySQLLedger) UpdatePhase(id string, from, to model.Phase) (bool, error) {
	result, err := r.masterDB.Exec(
		"UPDATE elections SET phase = ? WHERE id = ? AND phase = ?",
		string(to), id, string(from))
	if err != nil {
		return false, classifyMySQLError(err, "变更选举阶段失败")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, classifyMySQLError(err, "获取变更结果失败")
	}
	return affected == 1, nil
}

// GetVoter 获取选民资料，constituency为NULL时返回空串
func (r *MySQLLedger) GetVoter(id string) (*model.Voter, error) {
	row := r.slaveDB.QueryRow("SELECT id, name, constituency FROM voters WHERE id = ?", id)

	var voter model.Voter
	var constituency sql.NullString
	if err := row.Scan(&voter.ID, &voter.Name, &constituency); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrVoterNotFound
		}
		return nil, classifyMySQLError(err, "查询选民失败")
	}
	voter.Constituency = constituency.String
	return &voter, nil
}

// UpsertVoter 写入选民资料
func (r *MySQLLedger) UpsertVoter(voter *model.Voter) error {
	var constituency interface{}
	if voter.Constituency != "" {
		constituency = voter.Constituency
	}

	_, err := r.masterDB.Exec(
		`INSERT INTO voters (id, name, constituency) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE name = VALUES(name), constituency = VALUES(constituency)`,
		voter.ID, voter.Name, constituency)
	if err != nil {
		return classifyMySQLError(err, "写入选民资料失败")
	}
	return nil
}

// CastVote 投票的原子单元。
// 在同一事务内锁定选举行校验阶段、插入选票记录并递增候选人票数：
// FOR UPDATE的行锁与UpdatePhase互斥，阶段一旦变更本事务要么先提交要么被拒，
// (voter_id, election_id)唯一键保证并发重复请求只有一个成功，
// 其余报唯一键冲突映射为ErrAlreadyVoted。
func (r *MySQLLedger) CastVote(voterID, electionID, candidateID string) (*model.TallySnapshot, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, classifyMySQLError(err, "开始投票事务失败")
	}

	var phase string
	err = tx.QueryRow("SELECT phase FROM elections WHERE id = ? FOR UPDATE", electionID).Scan(&phase)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, model.ErrElectionNotFound
		}
		return nil, classifyMySQLError(err, "锁定选举阶段失败")
	}
	if model.Phase(phase) != model.PhaseOngoing {
		tx.Rollback()
		return nil, model.ErrElectionNotOpen
	}

	_, err = tx.Exec(
		"INSERT INTO ballots (voter_id, election_id, candidate_id, voted_at) VALUES (?, ?, ?, ?)",
		voterID, electionID, candidateID, time.Now())
	if err != nil {
		tx.Rollback()
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return nil, model.ErrAlreadyVoted
		}
		return nil, classifyMySQLError(err, "插入选票记录失败")
	}

	result, err := tx.Exec(
		"UPDATE candidates SET votes = votes + 1 WHERE election_id = ? AND id = ?",
		electionID, candidateID)
	if err != nil {
		tx.Rollback()
		return nil, classifyMySQLError(err, "递增候选人票数失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, classifyMySQLError(err, "获取递增结果失败")
	}
	if affected == 0 {
		tx.Rollback()
		return nil, model.ErrCandidateNotFound
	}

	// 在提交前读取本事务内的计票结果，保证调用方读到自己的写入
	rows, err := tx.Query(
		"SELECT id, votes FROM candidates WHERE election_id = ? ORDER BY position", electionID)
	if err != nil {
		tx.Rollback()
		return nil, classifyMySQLError(err, "查询计票结果失败")
	}

	snapshot := &model.TallySnapshot{ElectionID: electionID}
	for rows.Next() {
		var c model.CandidateCount
		if err := rows.Scan(&c.CandidateID, &c.Count); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, classifyMySQLError(err, "扫描计票结果失败")
		}
		snapshot.Candidates = append(snapshot.Candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		tx.Rollback()
		return nil, classifyMySQLError(err, "迭代计票结果失败")
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, classifyMySQLError(err, "提交投票事务失败")
	}

	return snapshot, nil
}

// GetTally 获取选举的计票快照
func (r *MySQLLedger) GetTally(electionID string) (*model.TallySnapshot, error) {
	rows, err := r.slaveDB.Query(
		"SELECT id, votes FROM candidates WHERE election_id = ? ORDER BY position", electionID)
	if err != nil {
		return nil, classifyMySQLError(err, "查询计票快照失败")
	}
	defer rows.Close()

	snapshot := &model.TallySnapshot{ElectionID: electionID}
	for rows.Next() {
		var c model.CandidateCount
		if err := rows.Scan(&c.CandidateID, &c.Count); err != nil {
			return nil, classifyMySQLError(err, "扫描计票快照失败")
		}
		snapshot.Candidates = append(snapshot.Candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMySQLError(err, "迭代计票快照失败")
	}

	if len(snapshot.Candidates) == 0 {
		// 区分"选举不存在"和"选举没有候选人"
		if _, err := r.GetElection(electionID); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

// VotedElections 获取选民已投过票的选举ID集合
func (r *MySQLLedger) VotedElections(voterID string) ([]string, error) {
	rows, err := r.slaveDB.Query(
		"SELECT election_id FROM ballots WHERE voter_id = ? ORDER BY voted_at", voterID)
	if err != nil {
		return nil, classifyMySQLError(err, "查询投票历史失败")
	}
	defer rows.Close()

	var electionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyMySQLError(err, "扫描投票历史失败")
		}
		electionIDs = append(electionIDs, id)
	}
	return electionIDs, rows.Err()
}

// Close 关闭数据库连接
func (r *MySQLLedger) Close() error {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
	return nil
}
