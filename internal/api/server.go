package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lvdashuaibi/electionvote/config"
	"github.com/lvdashuaibi/electionvote/internal/election"
	"github.com/lvdashuaibi/electionvote/internal/hub"
	"github.com/lvdashuaibi/electionvote/internal/model"
	"github.com/lvdashuaibi/electionvote/internal/service"
)

// Server HTTP服务器，承载REST接口、实时推送通道、GraphQL查询和指标端点
type Server struct {
	engine        *gin.Engine
	voteService   *service.VoteService
	electionStore *election.Store
	eventHub      *hub.Hub
	tokenSecret   string
}

func NewServer(
	voteService *service.VoteService,
	electionStore *election.Store,
	eventHub *hub.Hub,
) *Server {
	s := &Server{
		voteService:   voteService,
		electionStore: electionStore,
		eventHub:      eventHub,
		tokenSecret:   config.AppConfig.Auth.TokenSecret,
	}

	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	api := engine.Group("/api")
	{
		api.GET("/elections", OptionalAuth(s.tokenSecret), s.handleListElections)
		api.GET("/elections/history", AuthRequired(s.tokenSecret), s.handleVoterHistory)
		api.GET("/elections/:id", s.handleGetElection)
		api.GET("/elections/:id/tally", s.handleGetTally)
		api.GET("/elections/:id/stream", s.handleStream)

		api.POST("/elections/vote", AuthRequired(s.tokenSecret), s.handleVote)

		admin := api.Group("", AuthRequired(s.tokenSecret), AdminRequired())
		{
			admin.POST("/elections", s.handleCreateElection)
			admin.PUT("/elections/:id/status", s.handleSetPhase)
		}
	}

	engine.POST(config.AppConfig.GraphQL.Path, gin.WrapH(NewGraphQLHandler(voteService)))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	return s
}

// Start 启动HTTP服务器
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("HTTP服务已启动，地址: http://localhost%s/", addr)
	return s.engine.Run(addr)
}

// Handler 返回底层http.Handler，测试使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handleListElections 选举列表。
// 带选民令牌且eligible=1时只返回该选民当前有资格投票的选举。
func (s *Server) handleListElections(c *gin.Context) {
	var voter *model.Voter
	if c.Query("eligible") == "1" && currentRole(c) == RoleVoter {
		v, err := s.voteService.GetVoter(currentSubject(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		voter = v
	}

	elections, err := s.voteService.ListElections(voter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, elections)
}

func (s *Server) handleGetElection(c *gin.Context) {
	election, err := s.voteService.GetElection(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, election)
}

func (s *Server) handleGetTally(c *gin.Context) {
	snapshot, err := s.voteService.GetTally(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleVote(c *gin.Context) {
	var req model.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "BAD_REQUEST",
			"message": "请求体格式错误",
		})
		return
	}
	if req.ElectionID == "" || req.CandidateID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "BAD_REQUEST",
			"message": "electionId和candidateId不能为空",
		})
		return
	}

	response, err := s.voteService.CastVote(currentSubject(c), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleVoterHistory(c *gin.Context) {
	electionIDs, err := s.voteService.VoterHistory(currentSubject(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if electionIDs == nil {
		electionIDs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"electionIds": electionIDs})
}

func (s *Server) handleCreateElection(c *gin.Context) {
	var req model.CreateElectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "BAD_REQUEST",
			"message": "请求体格式错误",
		})
		return
	}

	created, err := s.electionStore.CreateElection(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "BAD_REQUEST",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleSetPhase(c *gin.Context) {
	var req struct {
		Phase model.Phase `json:"phase"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "BAD_REQUEST",
			"message": "请求体格式错误",
		})
		return
	}

	if err := s.electionStore.SetPhase(c.Param("id"), req.Phase); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "phase": req.Phase})
}
