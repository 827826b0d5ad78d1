package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvdashuaibi/electionvote/config"
	"github.com/lvdashuaibi/electionvote/internal/api"
	"github.com/lvdashuaibi/electionvote/internal/election"
	"github.com/lvdashuaibi/electionvote/internal/hub"
	intkafka "github.com/lvdashuaibi/electionvote/internal/kafka"
	"github.com/lvdashuaibi/electionvote/internal/lock"
	"github.com/lvdashuaibi/electionvote/internal/metrics"
	"github.com/lvdashuaibi/electionvote/internal/repository"
	"github.com/lvdashuaibi/electionvote/internal/service"
)

const (
	StartupLockTimeout = 30 * time.Second
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建选票台账
	ledger, err := repository.NewMySQLLedger()
	if err != nil {
		log.Fatalf("初始化MySQL台账失败: %v", err)
	}
	defer ledger.Close()

	if err := ledger.EnsureSchema(); err != nil {
		log.Fatalf("初始化数据库表失败: %v", err)
	}
	log.Printf("MySQL台账初始化成功")

	// 创建计票缓存
	tallyCache, err := repository.NewRedisTallyCache()
	if err != nil {
		log.Fatalf("初始化Redis计票缓存失败: %v", err)
	}
	defer tallyCache.Close()
	log.Printf("Redis计票缓存初始化成功")

	// 创建分布式锁，etcd不可用时退回Redlock
	var distributedLock lock.Lock
	distributedLock, err = lock.NewETCDLock()
	if err != nil {
		log.Printf("初始化ETCD分布式锁失败: %v，尝试使用Redlock", err)
		distributedLock, err = lock.NewRedLock()
		if err != nil {
			log.Fatalf("初始化Redlock失败: %v", err)
		}
	}
	defer distributedLock.Close()
	log.Printf("分布式锁初始化成功")

	// 创建指标
	voteMetrics := metrics.NewVoteMetrics(cfg.Metrics.Namespace)

	// 创建广播中心
	eventHub := hub.NewHub(cfg.Broadcast.SubscriberBuffer, voteMetrics)
	defer eventHub.Close()

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 创建投票服务
	voteService := service.NewVoteService(ledger, tallyCache, eventHub, producer, voteMetrics)
	log.Printf("投票服务初始化成功")

	// 获取启动选主锁，持有者负责把MySQL计票预热进Redis
	warmLeader, err := distributedLock.AcquireLock(lock.StartupLockName, StartupLockTimeout)
	if err != nil {
		log.Printf("获取启动选主锁失败: %v，跳过计票预热", err)
	}
	if warmLeader {
		log.Printf("实例 %d 获取启动选主锁成功，开始预热计票缓存", *instanceID)
		if err := voteService.WarmTallyCache(); err != nil {
			log.Fatalf("预热计票缓存失败: %v", err)
		}
		defer distributedLock.ReleaseLock(lock.StartupLockName)
	} else {
		log.Printf("实例 %d 未获取到启动选主锁，跳过计票预热", *instanceID)
	}

	// 启动Kafka消费者，跨实例计票事件转投本地广播中心
	consumer.StartConsuming(voteService.ProcessTallyEvent)
	log.Printf("Kafka消费者已启动")

	// 创建选举存储
	electionStore := election.NewStore(ledger, distributedLock, cfg.Vote.LockTimeout)

	// 创建HTTP服务
	server := api.NewServer(voteService, electionStore, eventHub)

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := server.Start(serverPort); err != nil {
			log.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	log.Printf("Election Vote 系统 (实例 %d) 已启动，服务地址: http://localhost:%d", *instanceID, serverPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}
