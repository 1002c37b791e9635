package workflow

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// pointer helpers for the *Params structs
func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Int64(i int64) *int64    { return &i }

var (
	workflowTaskWorkers = sync.Map{}
	workflowConfigs     = sync.Map{}
	workflowDefinitions = sync.Map{}
	loadWorkflowLock    = sync.Mutex{}
)

// WorkflowTaskNode node instance entity
type WorkflowTaskNode struct {
	ID                 int64
	WorkflowInstanceID int64
	TaskType           string
	Status             string
	NodeContext        *JSONContext
	CreatedAt          int64
	UpdatedAt          int64
	FailCount          int64
}

// WorkflowDefinition workflow definition entity
type WorkflowDefinition struct {
	ID         string
	Name       string
	NodesCount int64
	RootNode   *WorkflowTaskNodeDefinition
	Nodes      []*WorkflowTaskNodeDefinition // flattened, root first and end last
}

// WorkflowTaskNodeDefinition node definition entity
type WorkflowTaskNodeDefinition struct {
	TaskType      string
	TaskName      string
	FailMaxCount  int64 // the node fails after fail_max_count errors, <=0 ignored
	MaxWaitTimeTs int64 // seconds since the node instance was created, <=0 ignored
	PreNodes      []*WorkflowTaskNodeDefinition
	NextNodes     []*WorkflowTaskNodeDefinition
	TaskWorker    WorkflowTaskNodeWorker
}

type CreateWorkflowReq struct {
	WorkflowType string         `validate:"required"`
	BusinessID   string         `validate:"required"`
	Context      map[string]any // initial workflow variables, may be nil
	IsRun        bool           // run one tick right away
	TaskId       int64
}

func getWorkflowTaskWorker(workflowType string, taskKey string) (WorkflowTaskNodeWorker, bool) {
	worker, ok := workflowTaskWorkers.Load(workflowType + "_" + taskKey)
	if !ok {
		return defaultEmptyTaskWorker, false
	}
	workerHandler, ok := worker.(WorkflowTaskNodeWorker)
	if !ok {
		return defaultEmptyTaskWorker, false
	}
	return workerHandler, true
}

func getAllChildrenTaskType(node *WorkflowTaskNodeDefinition) []string {
	if len(node.NextNodes) == 0 {
		return []string{}
	}
	ret := make([]string, 0)
	for _, nextNode := range node.NextNodes {
		ret = append(ret, nextNode.TaskType)
		ret = append(ret, getAllChildrenTaskType(nextNode)...)
	}
	ret = UniqueStr(ret)
	return ret
}
func UniqueStr(arr []string) []string {
	ret := make([]string, 0)
	arrItemMap := make(map[string]struct{})
	for _, v := range arr {
		if _, ok := arrItemMap[v]; !ok {
			ret = append(ret, v)
			arrItemMap[v] = struct{}{}
		}
	}
	return ret
}

// WorkflowConfig process definition as configured
type WorkflowConfig struct {
	ID    string                  `json:"id" yaml:"id"`
	Name  string                  `json:"name" yaml:"name"`
	Nodes []*NodeDefinitionConfig `json:"nodes" yaml:"nodes"`
}

// NodeDefinitionConfig node as configured
type NodeDefinitionConfig struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	NextNodes     []string `json:"next_nodes" yaml:"next_nodes"`
	FailMaxCount  *int64   `json:"fail_max_count" yaml:"fail_max_count"`     // <=0 ignored
	MaxWaitTimeTs *int64   `json:"max_wait_time_ts" yaml:"max_wait_time_ts"` // seconds, <=0 ignored
}

/*
*
  - @description: store a workflow config
    the definition is built lazily by GetAndLoadWorkflowDefinition so that workers can be registered afterwards
  - @param config *WorkflowConfig
  - @return error
*/
func LoadWorkflowConfig(config *WorkflowConfig) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if _, ok := workflowDefinitions.Load(config.ID); ok {
		return errors.New(fmt.Sprintf("config already registered, id: %s", config.ID))
	}
	workflowConfigs.Store(config.ID, config)
	return nil
}

/*
*
  - @description: register the worker of one node
  - @param workflowType string
  - @param taskKey string node id
  - @param taskWorker WorkflowTaskNodeWorker
  - @return error
    *
*/
func RegisterWorkflowTask(workflowType string, taskKey string, taskWorker WorkflowTaskNodeWorker) error {
	if taskWorker == nil {
		return errors.New("taskWorker is nil")
	}
	if _, ok := workflowTaskWorkers.Load(workflowType + "_" + taskKey); ok {
		return errors.WithMessagef(ErrWorkflowTaskWorkerAlreadyRegistered, "workflowType: %s, taskKey: %s", workflowType, taskKey)
	}
	workflowTaskWorkers.Store(workflowType+"_"+taskKey, taskWorker)
	return nil
}

func GetAndLoadWorkflowDefinition(workflowType string) (*WorkflowDefinition, error) {
	if i, ok := workflowDefinitions.Load(workflowType); ok {
		ret, ok := i.(*WorkflowDefinition)
		if !ok {
			return nil, errors.WithMessagef(ErrWorkflowDefinitionNotFound, "workflow definition not found, workflowType: %s, type error,please check code", workflowType)
		}
		return ret, nil
	}
	loadWorkflowLock.Lock()
	defer loadWorkflowLock.Unlock()
	if i, ok := workflowDefinitions.Load(workflowType); ok {
		ret, ok := i.(*WorkflowDefinition)
		if !ok {
			return nil, errors.WithMessagef(ErrWorkflowDefinitionNotFound, "workflow definition not found, workflowType: %s, type error,please check code", workflowType)
		}
		return ret, nil
	}
	workflowDefinitionCofigInterface, ok := workflowConfigs.Load(workflowType)
	if !ok {
		return nil, errors.WithMessagef(ErrWorkflowConfigNotFound, "workflow config %s not found", workflowType)
	}
	workflowDefinitionCofig, ok := workflowDefinitionCofigInterface.(*WorkflowConfig)
	if !ok {
		return nil, errors.WithMessagef(ErrWorkflowConfigNotFound, "workflow config %s not found, type error,please check code", workflowType)
	}

	rootNode := NewRootTaskNodeDefinition()
	endNode := NewEndTaskNodeDefinition()
	nodesMaps := make(map[string]*NodeDefinitionConfig)
	// root and end
	nodeCount := int64(len(workflowDefinitionCofig.Nodes)) + 2
	nodeDefinitionConfigMap := make(map[string]*WorkflowTaskNodeDefinition)
	for _, node := range workflowDefinitionCofig.Nodes {
		nodesMaps[node.ID] = node
		workerFlowNodes := &WorkflowTaskNodeDefinition{
			TaskType:      node.ID,
			TaskName:      node.Name,
			FailMaxCount:  0,
			MaxWaitTimeTs: 0,
			PreNodes:      make([]*WorkflowTaskNodeDefinition, 0),
			NextNodes:     make([]*WorkflowTaskNodeDefinition, 0),
			TaskWorker:    defaultEmptyTaskWorker,
		}
		if node.FailMaxCount != nil {
			workerFlowNodes.FailMaxCount = *node.FailMaxCount
		}
		if node.MaxWaitTimeTs != nil {
			workerFlowNodes.MaxWaitTimeTs = *node.MaxWaitTimeTs
		}

		workerFlowNodes.TaskWorker, ok = getWorkflowTaskWorker(workflowType, node.ID)
		if !ok {
			return nil, errors.WithMessagef(ErrWorkflowTaskWorkerNotFound, "workflow task worker not found, workflowType: %s, taskKey: %s", workflowType, node.ID)
		}
		nodeDefinitionConfigMap[node.ID] = workerFlowNodes
	}

	// nodes without next nodes hang below endNode
	for _, node := range nodesMaps {
		nextNodes := make([]*WorkflowTaskNodeDefinition, 0)
		for _, nextNode := range node.NextNodes {
			if _, ok := nodeDefinitionConfigMap[nextNode]; !ok {
				return nil, errors.WithMessagef(ErrWorkflowTaskWorkerNotFound, "workflow task worker not found, workflowType: %s, taskKey: %s", workflowType, nextNode)
			}
			nextNodes = append(nextNodes, nodeDefinitionConfigMap[nextNode])
		}
		BuildAddWorkfNode(endNode, nodeDefinitionConfigMap[node.ID], nextNodes)
	}
	// nodes without pre nodes hang below rootNode
	for _, node := range nodeDefinitionConfigMap {
		if len(node.PreNodes) == 0 {
			rootNode.NextNodes = append(rootNode.NextNodes, node)
			node.PreNodes = append(node.PreNodes, rootNode)
		}
	}

	err := checkNodeDefinitionIsOk(rootNode)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkNodeDefinitionIsOk failed, workflowType: %s", workflowType)
	}

	workflowDefinition := &WorkflowDefinition{
		ID:         workflowType,
		Name:       workflowDefinitionCofig.Name,
		RootNode:   rootNode,
		NodesCount: nodeCount,
	}
	nodes := make([]*WorkflowTaskNodeDefinition, 0)
	nodes = append(nodes, rootNode)
	for _, node := range workflowDefinitionCofig.Nodes {
		if _, ok := nodeDefinitionConfigMap[node.ID]; !ok {
			return nil, errors.WithMessagef(ErrWorkflowTaskWorkerNotFound, "workflow task worker not found, workflowType: %s, taskKey: %s", workflowType, node.ID)
		}
		nodes = append(nodes, nodeDefinitionConfigMap[node.ID])
	}
	nodes = append(nodes, endNode)
	workflowDefinition.Nodes = nodes
	workflowDefinitions.Store(workflowType, workflowDefinition)
	return workflowDefinition, nil
}

func BuildAddWorkfNode(endNode *WorkflowTaskNodeDefinition, addNode *WorkflowTaskNodeDefinition, nextNodes []*WorkflowTaskNodeDefinition) error {
	if addNode == nil {
		return errors.New("addNode is nil")
	}
	if addNode.TaskType == endTaskNode {
		return nil
	}
	if len(nextNodes) == 0 {
		addNode.NextNodes = append(addNode.NextNodes, endNode)
		isNeedAddPreNode := true
		for _, nextNodePreNode := range endNode.PreNodes {
			if nextNodePreNode.TaskType == addNode.TaskType {
				isNeedAddPreNode = false
				break
			}
		}
		if isNeedAddPreNode {
			endNode.PreNodes = append(endNode.PreNodes, addNode)
		}
	} else {
		for _, nextNode := range nextNodes {
			isNeedAddPreNode := true
			for _, nextNodePreNode := range nextNode.PreNodes {
				if nextNodePreNode.TaskType == addNode.TaskType {
					isNeedAddPreNode = false
					break
				}
			}
			if isNeedAddPreNode {
				nextNode.PreNodes = append(nextNode.PreNodes, addNode)
			}
			addNode.NextNodes = append(addNode.NextNodes, nextNode)

		}
	}
	return nil
}

func (s *WorkflowServiceImpl) CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*WorkflowInstance, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateWorkflow failed, req: %v,err: %v", req, err)
	}
	workflowDefinition, err := GetAndLoadWorkflowDefinition(req.WorkflowType)
	if err != nil && !req.IsRun {
		// the process that creates the instance may not be the one that runs it
		slog.ErrorContext(ctx, fmt.Sprintf("GetAndLoadWorkflowDefinition failed, workflowType: %s, err: %v", req.WorkflowType, err))
	}
	if err != nil && req.IsRun {
		return nil, errors.WithMessagef(err, "GetAndLoadWorkflowDefinition failed, workflowType: %s", req.WorkflowType)
	}
	jsonContext := NewJSONContextFromMap(req.Context)

	workflowInstance, err := s.repo.CreateWorkflowInstance(ctx, &WorkflowInstancePo{
		WorkflowType:    req.WorkflowType,
		BusinessID:      req.BusinessID,
		WorkflowContext: jsonContext.ToBytesWithoutError(),
		Status:          WorkflowInstanceStatusInit,
		TaskId:          req.TaskId,
		CreatedAt:       time.Now().Unix(),
		UpdatedAt:       time.Now().Unix(),
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowInstance failed, workflowType: %s", req.WorkflowType)
	}

	if req.IsRun {
		err = s.RunWorkflow(ctx, workflowInstance.ID)
		if err != nil {
			return nil, errors.WithMessagef(err, "RunWorkflow failed, workflowInstanceID: %d", workflowInstance.ID)
		}
	}
	return &WorkflowInstance{
		ID:              workflowInstance.ID,
		WorkflowType:    workflowInstance.WorkflowType,
		BusinessID:      workflowInstance.BusinessID,
		Status:          workflowInstance.Status,
		WorkflowContext: NewJSONContext(workflowInstance.WorkflowContext),
		CreatedAt:       workflowInstance.CreatedAt,
		UpdatedAt:       workflowInstance.UpdatedAt,
		Definitions:     workflowDefinition,
		TaskId:          workflowInstance.TaskId,
	}, nil
}

func (s *WorkflowServiceImpl) CountWorkflowInstance(ctx context.Context, params *QueryWorkflowInstanceParams) (int64, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return 0, errors.Wrapf(ErrWorkflowParamInvalid, "CountWorkflowInstance failed, params: %v,err: %v", params, err)
	}
	count, err := s.repo.CountWorkflowInstance(ctx, params)
	if err != nil {
		return 0, errors.WithMessagef(err, "QueryWorkflowInstance failed, params: %v", params)
	}
	return count, nil
}

func (s *WorkflowServiceImpl) QueryWorkflowInstanceDetail(ctx context.Context, params *QueryWorkflowInstanceParams) ([]*WorkflowInstanceDetailEntity, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "QueryWorkflowInstanceDetail failed, params: %v,err: %v", params, err)
	}
	workflowInstances, err := s.repo.QueryWorkflowInstance(ctx, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowInstance failed, params: %v", params)
	}

	workflowInstanceDetailEntities := make([]*WorkflowInstanceDetailEntity, 0)
	for _, workflowInstance := range workflowInstances {
		workflowInstanceDetailEntity, err := s.assemblyWorkflowInstanceDetailEntity(ctx, workflowInstance)
		if err != nil {
			slog.ErrorContext(ctx, fmt.Sprintf("assemblyWorkflowInstanceDetailEntity failed, workflowInstanceID: %d, err: %v", workflowInstance.ID, err))
			continue
		}
		workflowInstanceDetailEntities = append(workflowInstanceDetailEntities, workflowInstanceDetailEntity)
	}
	return workflowInstanceDetailEntities, nil
}

func (s *WorkflowServiceImpl) QueryWorkflowInstancePo(ctx context.Context, params *QueryWorkflowInstanceParams) ([]*WorkflowInstancePo, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "QueryWorkflowInstancePo failed, params: %v,err: %v", params, err)
	}
	workflowInstance, err := s.repo.QueryWorkflowInstance(ctx, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowInstancePo failed, params: %v", params)
	}
	return workflowInstance, nil
}

func (s *WorkflowServiceImpl) assemblyWorkflowInstanceDetailEntity(ctx context.Context, workflowInstance *WorkflowInstancePo) (*WorkflowInstanceDetailEntity, error) {
	ret := &WorkflowInstanceDetailEntity{
		ID:              workflowInstance.ID,
		WorkflowType:    workflowInstance.WorkflowType,
		BusinessID:      workflowInstance.BusinessID,
		Status:          workflowInstance.Status,
		WorkflowContext: NewJSONContext(workflowInstance.WorkflowContext),
		TaskInstances:   make([]*TaskInstanceEntity, 0),
		CreatedAt:       workflowInstance.CreatedAt,
		UpdatedAt:       workflowInstance.UpdatedAt,
	}
	workflowDefinition, err := GetAndLoadWorkflowDefinition(workflowInstance.WorkflowType)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetAndLoadWorkflowDefinition failed, workflowType: %s", workflowInstance.WorkflowType)
	}
	taskInstances, err := s.getAllTaskInstancePo(ctx, workflowInstance.ID)
	if err != nil {
		return nil, errors.WithMessagef(err, "getAllTaskInstancePo failed, workflowInstanceID: %d", workflowInstance.ID)
	}
	taskMap := make(map[string]*WorkflowTaskInstancePo, 0)
	for _, taskInstance := range taskInstances {
		taskMap[taskInstance.TaskType] = taskInstance
	}
	for _, node := range workflowDefinition.Nodes {
		taskInstance, ok := taskMap[node.TaskType]
		preNodesKeys := make([]string, 0)
		nextNodesKeys := make([]string, 0)
		for _, preNode := range node.PreNodes {
			preNodesKeys = append(preNodesKeys, preNode.TaskType)
		}
		for _, nextNode := range node.NextNodes {
			nextNodesKeys = append(nextNodesKeys, nextNode.TaskType)
		}
		if ok {
			ret.TaskInstances = append(ret.TaskInstances, &TaskInstanceEntity{
				ID:                 taskInstance.ID,
				WorkflowInstanceID: workflowInstance.ID,
				TaskType:           taskInstance.TaskType,
				Status:             taskInstance.Status,
				TaskName:           node.TaskName,
				NodeContext:        NewJSONContext(taskInstance.NodeContext),
				FailCount:          taskInstance.FailCount,
				CreatedAt:          taskInstance.CreatedAt,
				UpdatedAt:          taskInstance.UpdatedAt,
				PreNodesKeys:       preNodesKeys,
				NextNodesKeys:      nextNodesKeys,
			})
		} else {
			// not created yet, only the definition is known
			ret.TaskInstances = append(ret.TaskInstances, &TaskInstanceEntity{
				WorkflowInstanceID: workflowInstance.ID,
				TaskType:           node.TaskType,
				TaskName:           node.TaskName,
				Status:             WorkflowTaskNodeStatusStatusUnCreated,
				PreNodesKeys:       preNodesKeys,
				NextNodesKeys:      nextNodesKeys,
			})
		}
	}
	return ret, nil
}

func (s *WorkflowServiceImpl) getAllTaskInstancePo(ctx context.Context, workflowInstanceID int64) ([]*WorkflowTaskInstancePo, error) {
	fetchCount := 100
	page := 1
	retTaskInstances := make([]*WorkflowTaskInstancePo, 0)
	for {
		taskInstances, err := s.repo.QueryWorkflowTaskInstance(ctx, &QueryWorkflowTaskInstanceParams{
			WorkflowInstanceID: &workflowInstanceID,
			Page: &Pager{
				Page: int64(page),
				Size: int64(fetchCount),
			},
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "QueryWorkflowTaskInstance failed, workflowInstanceID: %d", workflowInstanceID)
		}
		if len(taskInstances) == 0 {
			break
		}
		retTaskInstances = append(retTaskInstances, taskInstances...)
		if len(taskInstances) < fetchCount {
			break
		}
		page++
	}
	return retTaskInstances, nil
}

type RestartWorkflowNodeParams struct {
	WorkflowInstanceID      int64  `json:"workflow_instance_id" validate:"gt=0"`
	TaskType                string `json:"task_type" validate:"required"`
	IsForcedRestartWorkflow bool   `json:"is_forced_restart_workflow"` // also reopen a finished workflow instance
}

type RestartWorkflowParams struct {
	WorkflowInstanceID int64 `json:"workflow_instance_id" validate:"gt=0"`
	IsRun              bool  // run one tick right away
}

func (s *WorkflowServiceImpl) RestartWorkflowNode(ctx context.Context, restartParams *RestartWorkflowNodeParams) error {
	if err := validatorUtil.Struct(restartParams); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "RestartWorkflowNode failed, restartParams: %v,err: %v", restartParams, err)
	}
	err := s.executeLock.NonBlockingSynchronized(ctx,
		workflowOpLockKey(restartParams.WorkflowInstanceID),
		s.lockTimeout,
		func(ctx context.Context) error {
			workflowInstance, err := s.repo.QueryWorkflowInstance(ctx, &QueryWorkflowInstanceParams{
				WorkflowInstanceID: &restartParams.WorkflowInstanceID,
				Page: &Pager{
					Page: 1,
					Size: 1,
				},
			})
			if err != nil {
				return errors.WithMessagef(err, "QueryWorkflowInstance failed, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
			}
			if len(workflowInstance) == 0 {
				return errors.WithMessagef(ErrWorkflowInstanceNotFound, "workflowInstanceID: %d", restartParams.WorkflowInstanceID)
			}
			definition, err := GetAndLoadWorkflowDefinition(workflowInstance[0].WorkflowType)
			if err != nil {
				return errors.WithMessagef(err, "GetAndLoadWorkflowDefinition failed, workflowType: %s", workflowInstance[0].WorkflowType)
			}
			hasNode := false
			currentNode := definition.RootNode
			for _, node := range definition.Nodes {
				if node.TaskType == restartParams.TaskType {
					hasNode = true
					currentNode = node
					break
				}
			}
			if !hasNode {
				return errors.WithMessagef(ErrWorkflowTaskInstanceNotFound, "workflowInstanceID: %d, taskType: %s", restartParams.WorkflowInstanceID, restartParams.TaskType)
			}
			allChildrenTaskType := getAllChildrenTaskType(currentNode)
			resetTaskTypeMap := make(map[string]struct{})
			for _, taskType := range allChildrenTaskType {
				resetTaskTypeMap[taskType] = struct{}{}
			}
			resetTaskTypeMap[restartParams.TaskType] = struct{}{}

			err = s.repo.Transaction(ctx, func(ctx context.Context) error {
				if IsOverWorkflowInstanceStatus(workflowInstance[0].Status) {
					if !restartParams.IsForcedRestartWorkflow {
						return errors.Errorf("WorkflowInstance is over, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
					}
					workflowInstance[0].Status = WorkflowInstanceStatusRunning
					err = s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
						Where: &UpdateWorkflowInstanceWhere{
							IDIn: []int64{restartParams.WorkflowInstanceID},
						},
						Fields: &UpdateWorkflowInstanceField{
							Status: &workflowInstance[0].Status,
						},
						LimitMax: 1,
					})
					if err != nil {
						return errors.WithMessagef(err, "UpdateWorkflowInstance failed, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
					}
				}
				taskInstances, err := s.getAllTaskInstancePo(ctx, restartParams.WorkflowInstanceID)
				if err != nil {
					return errors.WithMessagef(err, "QueryWorkflowTaskInstance failed, workflowInstanceID: %d, taskType: %s", restartParams.WorkflowInstanceID, restartParams.TaskType)
				}
				if len(taskInstances) == 0 {
					// the node never ran
					return nil
				}
				resetTaskIds := make([]int64, 0)
				for _, taskInstance := range taskInstances {
					if _, ok := resetTaskTypeMap[taskInstance.TaskType]; ok {
						resetTaskIds = append(resetTaskIds, taskInstance.ID)
					}
				}
				if len(resetTaskIds) > 0 {
					err = s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
						Where: &UpdateWorkflowTaskInstanceWhere{
							IDIn: resetTaskIds,
						},
						Fields: &UpdateWorkflowTaskInstanceField{
							Status:    String(WorkflowTaskNodeStatusRestarting),
							FailCount: Int64(0),
						},
						LimitMax: len(resetTaskIds),
					})
					if err != nil {
						return errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed, workflowInstanceID: %d, taskType: %s", restartParams.WorkflowInstanceID, restartParams.TaskType)
					}
				}
				return nil
			})
			if err != nil {
				return errors.WithMessagef(err, "RestartWorkflowNode failed, restartParams: %v", restartParams)
			}
			return nil
		})
	if err != nil {
		return errors.WithMessagef(err, "RestartWorkflowNode failed, restartParams: %v", restartParams)
	}

	return nil
}
func (s *WorkflowServiceImpl) RestartWorkflowInstance(ctx context.Context, restartParams *RestartWorkflowParams) error {
	if err := validatorUtil.Struct(restartParams); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "RestartWorkflowInstance failed, restartParams: %v,err: %v", restartParams, err)
	}
	err := s.executeLock.NonBlockingSynchronized(ctx,
		workflowOpLockKey(restartParams.WorkflowInstanceID),
		s.lockTimeout,
		func(ctx context.Context) error {
			workflowInstance, err := s.repo.QueryWorkflowInstance(ctx, &QueryWorkflowInstanceParams{
				WorkflowInstanceID: &restartParams.WorkflowInstanceID,
				Page: &Pager{
					Page: 1,
					Size: 1,
				},
			})
			if err != nil {
				return errors.WithMessagef(err, "QueryWorkflowInstance failed, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
			}
			if len(workflowInstance) == 0 {
				return errors.WithMessagef(ErrWorkflowInstanceNotFound, "workflowInstanceID: %d", restartParams.WorkflowInstanceID)
			}
			if workflowInstance[0].Status != WorkflowInstanceStatusFailed && workflowInstance[0].Status != WorkflowInstanceStatusCancelled {
				// running ones need no restart, completed ones cannot be restarted
				return nil
			}
			workflowInstance[0].Status = WorkflowInstanceStatusRunning

			err = s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
				Where: &UpdateWorkflowInstanceWhere{
					IDIn: []int64{restartParams.WorkflowInstanceID},
				},
				Fields: &UpdateWorkflowInstanceField{
					Status: &workflowInstance[0].Status,
				},
				LimitMax: 1,
			})
			if err != nil {
				return errors.WithMessagef(err, "UpdateWorkflowInstance failed, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
			}
			taskInstances, err := s.getAllTaskInstancePo(ctx, restartParams.WorkflowInstanceID)
			if err != nil {
				return errors.WithMessagef(err, "QueryWorkflowTaskInstance failed, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
			}
			resetTaskIds := make([]int64, 0)
			for _, taskInstance := range taskInstances {
				if taskInstance.Status == WorkflowTaskNodeStatusFailed || taskInstance.Status == WorkflowTaskNodeStatusCancelled {
					resetTaskIds = append(resetTaskIds, taskInstance.ID)
				}
			}
			if len(resetTaskIds) > 0 {
				err = s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
					Where: &UpdateWorkflowTaskInstanceWhere{
						IDIn: resetTaskIds,
					},
					Fields: &UpdateWorkflowTaskInstanceField{
						Status:    String(WorkflowTaskNodeStatusRestarting),
						FailCount: Int64(0),
					},
					LimitMax: len(resetTaskIds),
				})
				if err != nil {
					return errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
				}
			}
			if restartParams.IsRun {
				err = s.RunWorkflow(ctx, restartParams.WorkflowInstanceID)
				if err != nil {
					return errors.WithMessagef(err, "RunWorkflow failed, workflowInstanceID: %d", restartParams.WorkflowInstanceID)
				}
			}
			return nil
		})
	if err != nil {
		return errors.WithMessagef(err, "RestartWorkflowInstance failed, restartParams: %v", restartParams)
	}
	return nil
}

func workflowOpLockKey(workflowInstanceID int64) string {
	return fmt.Sprintf("workflow_instance_execute_%d", workflowInstanceID)
}

type WorkflowInstanceDetailEntity struct {
	ID              int64
	WorkflowType    string
	BusinessID      string
	Status          WorkflowInstanceStatus
	WorkflowContext *JSONContext
	CreatedAt       int64
	UpdatedAt       int64
	TaskInstances   []*TaskInstanceEntity
}

type TaskInstanceEntity struct {
	ID                 int64 // 0 when the node has no instance yet
	WorkflowInstanceID int64
	TaskType           string
	TaskName           string
	Status             string
	NodeContext        *JSONContext
	FailCount          int64
	CreatedAt          int64
	UpdatedAt          int64
	PreNodesKeys       []string
	NextNodesKeys      []string
}

type WorkflowInstance struct {
	ID              int64
	WorkflowType    string
	BusinessID      string
	Status          string
	WorkflowContext *JSONContext
	TaskId          int64
	CreatedAt       int64
	UpdatedAt       int64
	Definitions     *WorkflowDefinition
}

func (s *WorkflowServiceImpl) RunWorkflow(ctx context.Context, workflowID int64) error {
	if workflowID <= 0 {
		return errors.Wrapf(ErrWorkflowParamInvalid, "RunWorkflow failed, workflowID: %d", workflowID)
	}
	workflowInstances, err := s.repo.QueryWorkflowInstance(ctx, &QueryWorkflowInstanceParams{
		WorkflowInstanceID: &workflowID,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return errors.WithMessagef(err, "QueryWorkflowInstance failed, workflowID: %d", workflowID)
	}
	if len(workflowInstances) == 0 {
		return errors.WithMessagef(ErrWorkflowInstanceNotFound, "WorkflowInstance not found, workflowID: %d", workflowID)
	}
	workflowInstance := &WorkflowInstance{
		ID:              workflowInstances[0].ID,
		WorkflowType:    workflowInstances[0].WorkflowType,
		BusinessID:      workflowInstances[0].BusinessID,
		Status:          workflowInstances[0].Status,
		WorkflowContext: NewJSONContext(workflowInstances[0].WorkflowContext),
		CreatedAt:       workflowInstances[0].CreatedAt,
		UpdatedAt:       workflowInstances[0].UpdatedAt,
		Definitions:     nil,
	}
	if IsOverWorkflowInstanceStatus(workflowInstance.Status) {
		return nil
	}
	workflowDefinition, err := GetAndLoadWorkflowDefinition(workflowInstance.WorkflowType)
	if err != nil {
		return errors.WithMessagef(err, "GetAndLoadWorkflowDefinition failed, workflowType: %s", workflowInstance.WorkflowType)
	}
	workflowInstance.Definitions = workflowDefinition

	err = s.executeLock.NonBlockingSynchronized(ctx,
		workflowOpLockKey(workflowInstance.ID),
		s.lockTimeout,
		func(ctx context.Context) error {
			taskInstanceNodes, err := s.repo.QueryWorkflowTaskInstance(ctx, &QueryWorkflowTaskInstanceParams{
				WorkflowInstanceID: &workflowInstance.ID,
				Page: &Pager{
					Page: 1,
					Size: workflowDefinition.NodesCount + 1,
				},
			})
			if err != nil {
				return errors.WithMessagef(err, "QueryWorkflowTaskInstance failed, workflowInstanceID: %d", workflowInstance.ID)
			}
			if len(taskInstanceNodes) > int(workflowDefinition.NodesCount) {
				// one instance per node is all the engine creates
				slog.ErrorContext(ctx, fmt.Sprintf("WorkflowTaskInstance node is more than nodes count,please check, workflowInstanceID: %d", workflowInstance.ID))
			}
			taskNodeMap := make(map[string]*WorkflowTaskNode, 0)
			for _, taskInstanceNode := range taskInstanceNodes {
				taskNodeMap[taskInstanceNode.TaskType] = &WorkflowTaskNode{
					ID:                 taskInstanceNode.ID,
					WorkflowInstanceID: taskInstanceNode.WorkflowInstanceID,
					TaskType:           taskInstanceNode.TaskType,
					Status:             taskInstanceNode.Status,
					NodeContext:        NewJSONContext(taskInstanceNode.NodeContext),
					CreatedAt:          taskInstanceNode.CreatedAt,
					UpdatedAt:          taskInstanceNode.UpdatedAt,
					FailCount:          taskInstanceNode.FailCount,
				}
			}
			err = s.visitTaskNodeAndExecute(ctx, workflowInstance, workflowDefinition.RootNode, &taskNodeMap)
			if err != nil && errors.Is(err, ErrWorkflowTaskFailedWithFailed) {
				// the workflow failed, nodes still in flight are cancelled
				batchCancelTaskIDs := make([]int64, 0)
				for _, taskNode := range taskNodeMap {
					if taskNode.Status == WorkflowTaskNodeStatusRunning || taskNode.Status == WorkflowTaskNodeStatusPending {
						batchCancelTaskIDs = append(batchCancelTaskIDs, taskNode.ID)
					}
				}
				if len(batchCancelTaskIDs) > 0 {
					newErr := s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
						Where: &UpdateWorkflowTaskInstanceWhere{
							IDIn: batchCancelTaskIDs,
						},
						Fields: &UpdateWorkflowTaskInstanceField{
							Status: String(WorkflowTaskNodeStatusCancelled),
						},
						LimitMax: len(batchCancelTaskIDs),
					})
					if newErr != nil {
						slog.ErrorContext(ctx, fmt.Sprintf("UpdateWorkflowTaskInstance failed, workflowInstanceID: %d, err: %v", workflowInstance.ID, newErr))
					}
				}
			}

			return err

		})
	if err != nil {
		return errors.WithMessagef(err, "NonBlockingSynchronized failed, workflowInstanceID: %d", workflowInstance.ID)
	}
	return nil
}

func (s *WorkflowServiceImpl) CancelWorkflowInstance(ctx context.Context, workflowInstanceID int64) error {
	if workflowInstanceID <= 0 {
		return errors.Wrapf(ErrWorkflowParamInvalid, "CancelWorkflowInstance failed, workflowInstanceID: %d", workflowInstanceID)
	}
	return s.executeLock.NonBlockingSynchronized(ctx,
		workflowOpLockKey(workflowInstanceID),
		s.lockTimeout,
		func(ctx context.Context) error {
			workflowInstance, err := s.repo.QueryWorkflowInstance(ctx, &QueryWorkflowInstanceParams{
				WorkflowInstanceID: &workflowInstanceID,
				Page: &Pager{
					Page: 1,
					Size: 1,
				},
			})
			if err != nil {
				return errors.WithMessagef(err, "QueryWorkflowInstance failed, workflowInstanceID: %d", workflowInstanceID)
			}
			if len(workflowInstance) == 0 {
				return errors.WithMessagef(ErrWorkflowInstanceNotFound, "WorkflowInstance not found, workflowInstanceID: %d", workflowInstanceID)
			}
			if IsOverWorkflowInstanceStatus(workflowInstance[0].Status) {
				return nil
			}
			return s.repo.Transaction(ctx, func(ctx context.Context) error {
				err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
					Where: &UpdateWorkflowInstanceWhere{
						IDIn: []int64{workflowInstanceID},
						StatusIn: []string{
							workflowInstance[0].Status,
						},
					},
					Fields: &UpdateWorkflowInstanceField{
						Status: String(WorkflowInstanceStatusCancelled),
					},
					LimitMax: 1,
				})
				if err != nil {
					return errors.WithMessagef(err, "UpdateWorkflowInstance failed, workflowInstanceID: %d", workflowInstanceID)
				}
				taskInstances, err := s.getAllTaskInstancePo(ctx, workflowInstanceID)
				if err != nil {
					return errors.WithMessagef(err, "getAllTaskInstancePo failed, workflowInstanceID: %d", workflowInstanceID)
				}
				updateTaskIDs := make([]int64, 0)
				for _, taskInstance := range taskInstances {
					if IsOverWorkflowTaskNodeStatus(taskInstance.Status) {
						continue
					}
					updateTaskIDs = append(updateTaskIDs, taskInstance.ID)
				}
				if len(updateTaskIDs) > 0 {
					err = s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
						Where: &UpdateWorkflowTaskInstanceWhere{
							IDIn: updateTaskIDs,
						},
						Fields: &UpdateWorkflowTaskInstanceField{
							Status: String(WorkflowTaskNodeStatusCancelled),
						},
						LimitMax: len(updateTaskIDs),
					})
					if err != nil {
						return errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed, workflowInstanceID: %d", workflowInstanceID)
					}
				}
				return nil
			})
		})
}

// collectPreNodeContext returns the pre node instances of node when all of them completed
func collectPreNodeContext(node *WorkflowTaskNodeDefinition, taskNodeMap map[string]*WorkflowTaskNode) (map[string]any, bool) {
	preNodeAllContext := make(map[string]any)
	for _, preNode := range node.PreNodes {
		preNodeInstance, ok := taskNodeMap[preNode.TaskType]
		if !ok || preNodeInstance.Status != WorkflowTaskNodeStatusCompleted {
			return nil, false
		}
		preNodeMap := preNodeInstance.NodeContext.Clone().ToMap()
		delete(preNodeMap, NodeContextKeyPreNodeContext) // one level only
		delete(preNodeMap, NodeContextKeySystem)
		delete(preNodeMap, NodeContextKeyVariables)
		preNodeAllContext[preNodeInstance.TaskType] = preNodeMap
	}
	return preNodeAllContext, true
}

// visitTaskNodeAndExecute visits the node and everything reachable after it.
// It returns early only when the workflow is stopped by a node.
// Recursive, do not use defer here.
func (s *WorkflowServiceImpl) visitTaskNodeAndExecute(ctx context.Context, workflowInstance *WorkflowInstance, rootNode *WorkflowTaskNodeDefinition, taskNodeMap *map[string]*WorkflowTaskNode) error {
	if rootNode == nil {
		return errors.New("rootNode is nil")
	}
	taskNode, ok := (*taskNodeMap)[rootNode.TaskType]
	if !ok {
		// no instance yet, create it once every pre node completed
		preNodeAllContext, isReady := collectPreNodeContext(rootNode, *taskNodeMap)
		if !isReady {
			return nil
		}
		newNodeContext := NewJSONContextFromMap(map[string]any{
			NodeContextKeyPreNodeContext: preNodeAllContext,
		})
		if rootNode.TaskType == rootTaskNode {
			workflowInstance.Status = WorkflowInstanceStatusRunning
			err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
				Where: &UpdateWorkflowInstanceWhere{
					IDIn: []int64{workflowInstance.ID},
				},
				Fields: &UpdateWorkflowInstanceField{
					Status: &workflowInstance.Status,
				},
				LimitMax: 1,
			})
			if err != nil {
				return errors.WithMessagef(err, "UpdateWorkflowInstance failed, workflowInstanceID: %d", workflowInstance.ID)
			}
		}
		taskInstancePo, err := s.repo.CreateWorkflowTaskInstance(ctx, &WorkflowTaskInstancePo{
			WorkflowInstanceID: workflowInstance.ID,
			TaskType:           rootNode.TaskType,
			Status:             WorkflowTaskNodeStatusRunning,
			NodeContext:        newNodeContext.ToBytesWithoutError(),
			CreatedAt:          time.Now().Unix(),
			UpdatedAt:          time.Now().Unix(),
		})
		if err != nil {
			return errors.WithMessagef(err, "CreateWorkflowTaskInstance failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, rootNode.TaskType)
		}

		taskNode = &WorkflowTaskNode{
			ID:                 taskInstancePo.ID,
			WorkflowInstanceID: taskInstancePo.WorkflowInstanceID,
			TaskType:           taskInstancePo.TaskType,
			Status:             taskInstancePo.Status,
			NodeContext:        NewJSONContext(taskInstancePo.NodeContext),
			CreatedAt:          taskInstancePo.CreatedAt,
			UpdatedAt:          taskInstancePo.UpdatedAt,
			FailCount:          taskInstancePo.FailCount,
		}
		(*taskNodeMap)[rootNode.TaskType] = taskNode
	} else {
		if taskNode.Status == WorkflowTaskNodeStatusCompleted {
			for _, nextNode := range rootNode.NextNodes {
				err := s.visitTaskNodeAndExecute(ctx, workflowInstance, nextNode, taskNodeMap)
				if err != nil {
					return errors.WithMessagef(err, "visitTaskNodeAndExecute failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, rootNode.TaskType)
				}
			}
			return nil
		}
		if taskNode.Status == WorkflowTaskNodeStatusCancelled || taskNode.Status == WorkflowTaskNodeStatusFailed {
			if workflowInstance.Status == WorkflowInstanceStatusCancelled || workflowInstance.Status == WorkflowInstanceStatusFailed {
				return errors.WithMessagef(ErrWorkflowTaskFailedWithFailed, "TaskRun failed with cancel, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, rootNode.TaskType)
			}
			originalStatus := workflowInstance.Status
			if taskNode.Status == WorkflowTaskNodeStatusCancelled {
				workflowInstance.Status = WorkflowInstanceStatusCancelled
			} else {
				workflowInstance.Status = WorkflowInstanceStatusFailed
			}
			workflowInstance.UpdatedAt = time.Now().Unix()
			newErr := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
				Where: &UpdateWorkflowInstanceWhere{
					IDIn: []int64{workflowInstance.ID},
				},
				Fields: &UpdateWorkflowInstanceField{
					Status: &workflowInstance.Status,
				},
				LimitMax: 1,
			})
			if newErr != nil {
				workflowInstance.Status = originalStatus
				slog.ErrorContext(ctx, fmt.Sprintf("UpdateWorkflowInstance failed,err: %v", newErr))
			}
			return errors.WithMessagef(ErrWorkflowTaskFailedWithFailed, "TaskRun failed with cancel, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, rootNode.TaskType)
		}
		if taskNode.Status == WorkflowTaskNodeStatusRestarting {
			preNodeAllContext, isReady := collectPreNodeContext(rootNode, *taskNodeMap)
			if !isReady {
				return nil
			}
			// fresh node context, node-local variables are carried over
			newNodeContext := NewJSONContextFromMap(map[string]any{
				NodeContextKeyPreNodeContext: preNodeAllContext,
			})
			if variables, ok := taskNode.NodeContext.Get(NodeContextKeyVariables); ok {
				newNodeContext.Set([]string{NodeContextKeyVariables}, variables)
			}
			taskNode.Status = WorkflowTaskNodeStatusRunning
			taskNode.NodeContext = newNodeContext
			err := s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
				Where: &UpdateWorkflowTaskInstanceWhere{
					IDIn: []int64{taskNode.ID},
				},
				Fields: &UpdateWorkflowTaskInstanceField{
					NodeContext: newNodeContext,
					Status:      &taskNode.Status,
				},
				LimitMax: 1,
			})
			if err != nil {
				return errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, rootNode.TaskType)
			}
		}
	}
	err := s.taskRun(ctx, workflowInstance, rootNode, taskNode)
	if err != nil {
		if errors.Is(err, ErrWorkflowTaskFailedWithFailed) {
			return errors.WithMessagef(err, "TaskRun failed with cancel, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, rootNode.TaskType)
		}
		if IsSeriousError(err) {
			slog.ErrorContext(ctx, fmt.Sprintf("[error]TaskRun failed, workflowInstanceID: %d, taskType: %s, err: %v", workflowInstance.ID, rootNode.TaskType, err))
		} else {
			slog.WarnContext(ctx, fmt.Sprintf("[warn]TaskRun failed, workflowInstanceID: %d, taskType: %s, err: %v", workflowInstance.ID, rootNode.TaskType, err))
		}
		// logged only, the other branches still run
		return nil
	}
	if taskNode.Status != WorkflowTaskNodeStatusCompleted {
		return nil
	}
	for _, nextNode := range rootNode.NextNodes {
		err := s.visitTaskNodeAndExecute(ctx, workflowInstance, nextNode, taskNodeMap)
		if err != nil {
			return errors.WithMessagef(err, "visitTaskNodeAndExecute failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, rootNode.TaskType)
		}
	}

	return nil

}

// saveWorkflowVariables writes the shared variables back after a worker ran
func (s *WorkflowServiceImpl) saveWorkflowVariables(ctx context.Context, workflowInstance *WorkflowInstance) error {
	err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
		Where: &UpdateWorkflowInstanceWhere{
			IDIn: []int64{workflowInstance.ID},
		},
		Fields: &UpdateWorkflowInstanceField{
			WorkflowContext: workflowInstance.WorkflowContext,
		},
		LimitMax: 1,
	})
	if err != nil {
		return errors.WithMessagef(err, "save workflow variables failed, workflowInstanceID: %d", workflowInstance.ID)
	}
	return nil
}

func (s *WorkflowServiceImpl) taskRun(ctx context.Context, workflowInstance *WorkflowInstance, taskNode *WorkflowTaskNodeDefinition, taskInstance *WorkflowTaskNode) (err error) {
	if taskNode == nil {
		return errors.New("taskNode is nil")
	}
	if taskInstance == nil {
		return errors.New("taskInstance is nil")
	}
	execution := &Execution{
		WorkflowInstanceID: workflowInstance.ID,
		TaskInstanceID:     taskInstance.ID,
		TaskType:           taskNode.TaskType,
		BusinessID:         workflowInstance.BusinessID,
		FailCount:          taskInstance.FailCount,
		Variables:          workflowInstance.WorkflowContext,
		NodeContext:        taskInstance.NodeContext,
	}
	isWorkerInvoked := false
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			slog.ErrorContext(ctx, fmt.Sprintf("taskRun panic: %v, task InstanceID: %d, taskType: %s, stack: %s", r, taskInstance.ID, taskNode.TaskType, string(stack)))
			err = errors.New(fmt.Sprintf("taskRun panic: %v, task InstanceID: %d, taskType: %s", r, taskInstance.ID, taskNode.TaskType))
		}
		if isWorkerInvoked {
			// variables written by a failed invocation are kept too, e.g. the error type
			if saveErr := s.saveWorkflowVariables(ctx, workflowInstance); saveErr != nil {
				slog.ErrorContext(ctx, fmt.Sprintf("saveWorkflowVariables failed, workflowInstanceID: %d, taskType: %s, err: %v", workflowInstance.ID, taskNode.TaskType, saveErr))
				if err == nil {
					err = saveErr
				}
			}
		}
		if err != nil {
			s.addTaskNodeContextSystemError(err, taskInstance.NodeContext)
			if taskNode.MaxWaitTimeTs > 0 && time.Now().Unix()-taskInstance.CreatedAt > taskNode.MaxWaitTimeTs {
				err = errors.WithMessagef(ErrWorkflowTaskFailedWithFailed, "TaskRun failed with cancel, timeout, taskInstanceID: %d, workflowInstanceID: %d, taskType: %s,err: %v", taskInstance.ID, workflowInstance.ID, taskNode.TaskType, err)
				reasonvalue, ok := taskInstance.NodeContext.GetString(NodeContextKeyReason)
				if !ok || reasonvalue == "" {
					taskInstance.NodeContext.Set([]string{NodeContextKeyReason}, "node wait time exceeded")
				}
			}

			// not ready is the normal waiting path, the node context may have changed
			if errors.Is(err, ErrorWorkflowTaskInstanceNotReady) {
				err = s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
					Where: &UpdateWorkflowTaskInstanceWhere{
						IDIn: []int64{taskInstance.ID},
					},
					Fields: &UpdateWorkflowTaskInstanceField{
						NodeContext: taskInstance.NodeContext,
					},
					LimitMax: 1,
				})
				return
			}
			// tolerated failure, the node counts as completed
			if errors.Is(err, ErrorWorkflowTaskFailedWithContinue) {
				taskInstance.Status = WorkflowTaskNodeStatusCompleted
				taskInstance.UpdatedAt = time.Now().Unix()
				taskInstance.FailCount++
				err = s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
					Where: &UpdateWorkflowTaskInstanceWhere{
						IDIn: []int64{taskInstance.ID},
					},
					Fields: &UpdateWorkflowTaskInstanceField{
						Status:      &taskInstance.Status,
						NodeContext: taskInstance.NodeContext,
						FailCount:   &taskInstance.FailCount,
					},
					LimitMax: 1,
				})
				return
			}

			if taskNode.FailMaxCount > 0 && taskInstance.FailCount+1 >= taskNode.FailMaxCount {
				err = errors.WithMessagef(ErrWorkflowTaskFailedWithFailed, "TaskRun failed with cancel, fail max count, taskInstanceID: %d, workflowInstanceID: %d, taskType: %s,err: %v", taskInstance.ID, workflowInstance.ID, taskNode.TaskType, err)
				s.addTaskNodeContextSystemError(err, taskInstance.NodeContext)
			}

			// the node fails and takes the workflow with it
			if errors.Is(err, ErrWorkflowTaskFailedWithFailed) {
				originalStatus := taskInstance.Status
				taskInstance.Status = WorkflowTaskNodeStatusFailed
				taskInstance.FailCount++
				taskInstance.UpdatedAt = time.Now().Unix()
				newErr := s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
					Where: &UpdateWorkflowTaskInstanceWhere{
						IDIn: []int64{taskInstance.ID},
					},
					Fields: &UpdateWorkflowTaskInstanceField{
						Status:      &taskInstance.Status,
						NodeContext: taskInstance.NodeContext,
						FailCount:   &taskInstance.FailCount,
					},
					LimitMax: 1,
				})
				if newErr != nil {
					taskInstance.Status = originalStatus
					err = errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed,err: %v", newErr)
					return
				}

				if workflowInstance.Status == WorkflowInstanceStatusCancelled || workflowInstance.Status == WorkflowInstanceStatusFailed {
					err = errors.WithMessagef(err, "TaskRun failed with cancel, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, taskNode.TaskType)
					return
				}

				originalStatus = workflowInstance.Status
				workflowInstance.Status = WorkflowInstanceStatusFailed
				workflowInstance.UpdatedAt = time.Now().Unix()
				newErr = s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
					Where: &UpdateWorkflowInstanceWhere{
						IDIn: []int64{workflowInstance.ID},
					},
					Fields: &UpdateWorkflowInstanceField{
						Status: &workflowInstance.Status,
					},
					LimitMax: 1,
				})
				if newErr != nil {
					workflowInstance.Status = originalStatus
					slog.ErrorContext(ctx, fmt.Sprintf("UpdateWorkflowInstance failed,err: %v", newErr))
				}
				err = errors.WithMessagef(err, "TaskRun failed with cancel, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, taskNode.TaskType)
				return
			}

			// any other error is retried on the next tick
			taskInstance.FailCount++
			taskInstance.UpdatedAt = time.Now().Unix()
			newErr := s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
				Where: &UpdateWorkflowTaskInstanceWhere{
					IDIn: []int64{taskInstance.ID},
				},
				Fields: &UpdateWorkflowTaskInstanceField{
					FailCount:   &taskInstance.FailCount,
					NodeContext: taskInstance.NodeContext,
				},
				LimitMax: 1,
			})
			if newErr != nil {
				err = errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed,err: %v", newErr)
			}
			return

		}
	}()
	if taskInstance.Status == WorkflowTaskNodeStatusRunning {
		isWorkerInvoked = true
		err := taskNode.TaskWorker.Run(ctx, execution)
		if err != nil {
			return errors.WithMessagef(err, "Run failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, taskNode.TaskType)
		}
		taskInstance.Status = WorkflowTaskNodeStatusPending
		taskInstance.UpdatedAt = time.Now().Unix()
		err = s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
			Where: &UpdateWorkflowTaskInstanceWhere{
				IDIn: []int64{taskInstance.ID},
			},
			Fields: &UpdateWorkflowTaskInstanceField{
				Status:      &taskInstance.Status,
				NodeContext: taskInstance.NodeContext,
			},
			LimitMax: 1,
		})
		if err != nil {
			return errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, taskNode.TaskType)
		}
	}
	if taskInstance.Status == WorkflowTaskNodeStatusPending {
		isWorkerInvoked = true
		err := taskNode.TaskWorker.AsynchronousWaitCheck(ctx, execution)
		if err != nil {
			return errors.WithMessagef(err, "AsynchronousWaitCheck failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, taskNode.TaskType)
		}
		taskInstance.Status = WorkflowTaskNodeStatusFinishing
		taskInstance.UpdatedAt = time.Now().Unix()

		err = s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
			Where: &UpdateWorkflowTaskInstanceWhere{
				IDIn: []int64{taskInstance.ID},
			},
			Fields: &UpdateWorkflowTaskInstanceField{
				Status:      &taskInstance.Status,
				NodeContext: taskInstance.NodeContext,
			},
			LimitMax: 1,
		})
		if err != nil {
			return errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, taskNode.TaskType)
		}
	}
	if taskInstance.Status == WorkflowTaskNodeStatusFinishing {
		taskInstance.Status = WorkflowTaskNodeStatusCompleted
		taskInstance.UpdatedAt = time.Now().Unix()
		err := s.repo.UpdateWorkflowTaskInstance(ctx, &UpdateWorkflowTaskInstanceParams{
			Where: &UpdateWorkflowTaskInstanceWhere{
				IDIn: []int64{taskInstance.ID},
			},
			Fields: &UpdateWorkflowTaskInstanceField{
				Status: &taskInstance.Status,
			},
			LimitMax: 1,
		})
		if err != nil {
			return errors.WithMessagef(err, "UpdateWorkflowTaskInstance failed, workflowInstanceID: %d, taskType: %s", workflowInstance.ID, taskNode.TaskType)
		}
		if taskNode.TaskType == endTaskNode {
			workflowInstance.Status = WorkflowInstanceStatusCompleted
			workflowInstance.UpdatedAt = time.Now().Unix()
			err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
				Where: &UpdateWorkflowInstanceWhere{
					IDIn: []int64{workflowInstance.ID},
				},
				Fields: &UpdateWorkflowInstanceField{
					Status: &workflowInstance.Status,
				},
				LimitMax: 1,
			})
			if err != nil {
				return errors.WithMessagef(err, "UpdateWorkflowInstance failed, workflowInstanceID: %d", workflowInstance.ID)
			}
		}

	}
	return nil
}

func (s *WorkflowServiceImpl) addTaskNodeContextSystemError(err error, nodeContext *JSONContext) {
	if nodeContext == nil {
		return
	}
	if err == nil {
		return
	}
	nodeContext.Set([]string{NodeContextKeySystem, "last_error"}, err.Error())
	nodeContext.Set([]string{NodeContextKeySystem, "last_error_time"}, time.Now().Format(time.RFC3339))
}

func checkNodeDefinitionIsOk(rootNode *WorkflowTaskNodeDefinition) error {
	if rootNode == nil {
		return errors.New("rootNode is nil")
	}
	visitMap := make(map[string]bool)
	return visitNodeDefinition(rootNode, visitMap)
}
func visitNodeDefinition(rootNode *WorkflowTaskNodeDefinition, visitMap map[string]bool) error {
	if rootNode == nil {
		return errors.New("rootNode is nil")
	}
	if rootNode.TaskType == endTaskNode {
		return nil
	}
	// seen on the current path means a cycle
	if visitMap[rootNode.TaskType] {
		return errors.New("rootNode，taskType: " + rootNode.TaskType + " is already visited, there is a cycle in the workflow")
	}

	visitMap[rootNode.TaskType] = true

	for _, nextNode := range rootNode.NextNodes {
		err := visitNodeDefinition(nextNode, visitMap)
		if err != nil {
			return errors.WithMessagef(err, "visitNodeDefinition failed, rootNode: %s, nextNode: %s", rootNode.TaskType, nextNode.TaskType)
		}
	}
	visitMap[rootNode.TaskType] = false
	return nil
}

// PreloadWorkflowDefinitions builds the definitions of workflowTypes, every failure is reported
func PreloadWorkflowDefinitions(workflowTypes ...string) error {
	errorlist := make([]error, 0)
	for _, workflowType := range workflowTypes {
		if _, err := GetAndLoadWorkflowDefinition(workflowType); err != nil {
			errorlist = append(errorlist, err)
		}
	}
	if len(errorlist) > 0 {
		return errors.WithMessage(goerrors.Join(errorlist...), "PreloadWorkflowDefinitions failed")
	}
	return nil
}
